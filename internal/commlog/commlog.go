// Package commlog records inbound and outbound messages exchanged through
// connected apps.
package commlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel is the medium of a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Direction tells whether the platform sent or received the message.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Entry is one communication log record.
type Entry struct {
	ID            string    `json:"id"`
	Channel       Channel   `json:"channel"`
	Direction     Direction `json:"direction"`
	From          string    `json:"from"`
	To            []string  `json:"to"`
	Subject       string    `json:"subject,omitempty"`
	Text          string    `json:"text"`
	AppID         string    `json:"app_id,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	DateTime      time.Time `json:"date_time"`
}

// Store persists log entries and supports range reads and retention deletes.
type Store interface {
	Append(ctx context.Context, e *Entry) error
	ListBetween(ctx context.Context, from, to time.Time) ([]Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

func prepare(e *Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.DateTime.IsZero() {
		e.DateTime = time.Now().UTC()
	}
}

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	prepare(e)
	cp := *e
	cp.To = append([]string(nil), e.To...)
	s.mu.Lock()
	s.entries = append(s.entries, cp)
	s.mu.Unlock()
	return nil
}

// ListBetween returns entries in [from, to) ordered by time.
func (s *MemoryStore) ListBetween(ctx context.Context, from, to time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if !e.DateTime.Before(from) && e.DateTime.Before(to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.DateTime.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}
