package settings

import (
	"context"
	"encoding/json"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestRedisStoreDefaults(t *testing.T) {
	store, _ := newRedisStore(t)

	booking, err := store.Booking(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultBooking(), booking)

	_, err = store.Get(context.Background(), "payments")
	assert.ErrorIs(t, err, ErrUnknownSection)
}

func TestRedisStoreSetMergesOverDefaults(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, SectionBooking, json.RawMessage(`{"slot_granularity_minutes":30,"allow_overlap":true}`)))
	assert.True(t, mr.Exists("settings:booking"))

	booking, err := store.Booking(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, booking.SlotGranularityMinutes)
	assert.True(t, booking.AllowOverlap)
	assert.Equal(t, 14, booking.WindowDays, "unset fields keep defaults")

	require.NoError(t, store.Set(ctx, SectionCommunications, json.RawMessage(`{"mail_app_id":"app-1"}`)))
	comms, err := store.Communications(ctx)
	require.NoError(t, err)
	assert.Equal(t, "app-1", comms.MailAppID)

	assert.ErrorIs(t, store.Set(ctx, SectionBooking, json.RawMessage(`{"timezone":"Nowhere/Land"}`)), ErrInvalid)
	assert.ErrorIs(t, store.Set(ctx, SectionGeneral, json.RawMessage(`not json`)), ErrInvalid)
}

func TestStaticProvider(t *testing.T) {
	general := General{Name: "Glow", PublicURL: "https://glow.example"}
	p := NewStatic(&general, nil, nil)

	got, err := p.General(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://glow.example", got.PublicURL)

	comms, err := p.Communications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultCommunications(), comms)
}
