package apps

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps connected apps in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	apps map[string]*ConnectedApp
	seq  map[string]int
	next int
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apps: make(map[string]*ConnectedApp),
		seq:  make(map[string]int),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Insert(ctx context.Context, app *ConnectedApp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = app.clone()
	s.seq[app.ID] = s.next
	s.next++
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*ConnectedApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, ErrAppNotFound
	}
	return app.clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*ConnectedApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ConnectedApp, 0, len(s.apps))
	for _, app := range s.apps {
		if filter.matches(app) {
			out = append(out, app.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return false, ErrAppNotFound
	}
	if app.Status == status {
		return false, nil
	}
	app.Status = status
	app.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) UpdateData(ctx context.Context, id string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return ErrAppNotFound
	}
	app.Data = append(json.RawMessage(nil), data...)
	app.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[id]; !ok {
		return ErrAppNotFound
	}
	delete(s.apps, id)
	delete(s.seq, id)
	return nil
}
