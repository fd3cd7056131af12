package appointments

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/medspa-scheduling/internal/timerange"
)

// MemoryStore keeps appointments in process memory. A single lock makes every
// conditional write atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[string]*Appointment
	external map[string]map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Appointment), external: make(map[string]map[string]string)}
}

func (s *MemoryStore) overlaps(resource string, iv timerange.Interval, excludeID string) bool {
	for id, a := range s.items {
		if id == excludeID || a.Resource != resource || !a.Blocks() {
			continue
		}
		if a.Interval().Overlaps(iv) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) InsertIfFree(ctx context.Context, appt *Appointment, checkOverlap bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if checkOverlap && appt.Blocks() && s.overlaps(appt.Resource, appt.Interval(), appt.ID) {
		return ErrSlotUnavailable
	}
	s.items[appt.ID] = appt.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != from {
		return errStale
	}
	a.Status = to
	a.UpdatedAt = at
	return nil
}

func (s *MemoryStore) Reschedule(ctx context.Context, appt *Appointment, prevStart time.Time, prevDuration time.Duration, checkOverlap bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[appt.ID]
	if !ok {
		return ErrNotFound
	}
	if !a.Blocks() || !a.Start.Equal(prevStart) || a.Duration != prevDuration {
		return errStale
	}
	if checkOverlap && s.overlaps(a.Resource, appt.Interval(), appt.ID) {
		return ErrSlotUnavailable
	}
	a.Start = appt.Start
	a.Duration = appt.Duration
	a.UpdatedAt = appt.UpdatedAt
	return nil
}

func (s *MemoryStore) AddAppRef(ctx context.Context, id, appID, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if s.external[id] == nil {
		s.external[id] = make(map[string]string)
	}
	s.external[id][appID] = externalID
	for _, ref := range a.AppRefs {
		if ref == appID {
			return nil
		}
	}
	a.AppRefs = append(a.AppRefs, appID)
	return nil
}

func (s *MemoryStore) CalendarEvents(ctx context.Context, id string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.items[id]; !ok {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(s.external[id]))
	for appID, ext := range s.external[id] {
		out[appID] = ext
	}
	return out, nil
}

func (s *MemoryStore) BusyBetween(ctx context.Context, resource string, from, to time.Time, excludeID string) ([]timerange.Interval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	window := timerange.Interval{Start: from, End: to}
	var out []timerange.Interval
	for id, a := range s.items {
		if id == excludeID || a.Resource != resource || !a.Blocks() {
			continue
		}
		if iv := a.Interval(); iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListStarting(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Appointment
	for _, a := range s.items {
		if a.Blocks() && !a.Start.Before(from) && a.Start.Before(to) {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ReferencesApp(ctx context.Context, appID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.items {
		if a.Status != StatusPending {
			continue
		}
		for _, ref := range a.AppRefs {
			if ref == appID {
				return true, nil
			}
		}
	}
	return false, nil
}
