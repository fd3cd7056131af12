package settings

import (
	"context"
	"encoding/json"
	"sync"
)

// Static is an in-memory provider, used when Redis is not configured and in tests.
type Static struct {
	mu       sync.RWMutex
	sections map[string]json.RawMessage
}

var (
	_ Provider = (*Static)(nil)
	_ Writer   = (*Static)(nil)
)

// NewStatic seeds a provider with typed sections. Zero values keep defaults.
func NewStatic(general *General, booking *Booking, comms *Communications) *Static {
	s := &Static{sections: make(map[string]json.RawMessage)}
	seed := func(section string, v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			return
		}
		s.sections[section] = raw
	}
	if general != nil {
		seed(SectionGeneral, general)
	}
	if booking != nil {
		seed(SectionBooking, booking)
	}
	if comms != nil {
		seed(SectionCommunications, comms)
	}
	return s
}

func (s *Static) Get(ctx context.Context, section string) (json.RawMessage, error) {
	def, err := defaultSection(section)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	raw, ok := s.sections[section]
	s.mu.RUnlock()
	if !ok {
		return json.Marshal(def)
	}
	return append(json.RawMessage(nil), raw...), nil
}

func (s *Static) Set(ctx context.Context, section string, raw json.RawMessage) error {
	data, err := normalize(section, raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sections[section] = data
	s.mu.Unlock()
	return nil
}

func (s *Static) General(ctx context.Context) (General, error) {
	return decodeSection[General](ctx, s, SectionGeneral)
}

func (s *Static) Booking(ctx context.Context) (Booking, error) {
	return decodeSection[Booking](ctx, s, SectionBooking)
}

func (s *Static) Communications(ctx context.Context) (Communications, error) {
	return decodeSection[Communications](ctx, s, SectionCommunications)
}
