package apps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScopes(t *testing.T) {
	scopes, err := ParseScopes([]string{"calendar-read", " Calendar-Read ", "mail-send"})
	require.NoError(t, err)
	assert.Equal(t, []Scope{ScopeCalendarRead, ScopeMailSend}, scopes)

	_, err = ParseScope("payments")
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestRegistryResolveAndValidate(t *testing.T) {
	reg := testRegistry(nil)

	_, err := reg.Resolve("missing")
	assert.ErrorIs(t, err, ErrDescriptorNotFound)

	scopes, err := reg.ValidateScopes("calendar", nil)
	require.NoError(t, err)
	assert.Equal(t, []Scope{ScopeCalendarRead, ScopeCalendarWrite}, scopes)

	scopes, err = reg.ValidateScopes("calendar", []Scope{ScopeCalendarRead})
	require.NoError(t, err)
	assert.Equal(t, []Scope{ScopeCalendarRead}, scopes)

	_, err = reg.ValidateScopes("calendar", []Scope{ScopeMailSend})
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestRegistryRejectsBadDescriptors(t *testing.T) {
	reg := testRegistry(nil)
	assert.Error(t, reg.Register(Descriptor{Name: "calendar", Build: testRegistry(nil).descriptors["calendar"].Build}))
	assert.Error(t, reg.Register(Descriptor{Name: "nobuild"}))
	assert.ErrorIs(t, reg.Register(Descriptor{
		Name:   "weird",
		Scopes: []Scope{"teleport"},
		Build:  func(*ConnectedApp, Env) (any, error) { return nil, nil },
	}), ErrInvalidScope)
}

func TestInstanceAccessorsAreScopeGated(t *testing.T) {
	reg := testRegistry(nil)
	app := &ConnectedApp{ID: "a1", Name: "calendar", Scopes: []Scope{ScopeCalendarRead}}

	inst, err := reg.Instantiate(app, Env{})
	require.NoError(t, err)

	_, ok := inst.CalendarSource()
	assert.True(t, ok)
	_, ok = inst.CalendarSink()
	assert.False(t, ok, "implementation supports calendar-write but the app did not claim it")
	_, ok = inst.MailSender()
	assert.False(t, ok)
	_, ok = inst.AppointmentHook()
	assert.False(t, ok)
	_, ok = inst.HealthChecker()
	assert.True(t, ok)
	_, ok = inst.WebhookProcessor()
	assert.True(t, ok)

	hookInst, err := reg.Instantiate(&ConnectedApp{ID: "h1", Name: "hook", Scopes: []Scope{ScopeAppointmentHook}}, Env{})
	require.NoError(t, err)
	_, ok = hookInst.AppointmentHook()
	assert.True(t, ok)

	_, err = reg.Instantiate(&ConnectedApp{ID: "b1", Name: "broken"}, Env{})
	assert.ErrorContains(t, err, "no credentials")
}
