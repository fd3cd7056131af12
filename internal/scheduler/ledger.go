package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ReminderKey identifies one reminder. The start is part of the key so a
// rescheduled appointment gets reminded again for its new time.
type ReminderKey struct {
	AppointmentID string
	Offset        time.Duration
	Start         time.Time
}

// Ledger records reminders that were already claimed.
type Ledger interface {
	// Claim returns true for the first caller of a key and false afterwards.
	Claim(ctx context.Context, key ReminderKey, at time.Time) (bool, error)
	// Prune forgets reminders for appointments that started before cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresLedger stores claims in reminder_deliveries.
type PostgresLedger struct {
	db execer
}

func NewPostgresLedger(db execer) *PostgresLedger {
	if db == nil {
		panic("scheduler: db required")
	}
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Claim(ctx context.Context, key ReminderKey, at time.Time) (bool, error) {
	ct, err := l.db.Exec(ctx, `
		INSERT INTO reminder_deliveries (appointment_id, offset_minutes, start_at, claimed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, key.AppointmentID, int(key.Offset/time.Minute), key.Start.UTC(), at)
	if err != nil {
		return false, fmt.Errorf("scheduler: claim reminder: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (l *PostgresLedger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := l.db.Exec(ctx, `DELETE FROM reminder_deliveries WHERE start_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scheduler: prune reminders: %w", err)
	}
	return ct.RowsAffected(), nil
}

// MemoryLedger is the in-process ledger used without a database.
type MemoryLedger struct {
	mu      sync.Mutex
	claimed map[ReminderKey]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{claimed: make(map[ReminderKey]struct{})}
}

func (l *MemoryLedger) Claim(ctx context.Context, key ReminderKey, at time.Time) (bool, error) {
	key.Start = key.Start.UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.claimed[key]; ok {
		return false, nil
	}
	l.claimed[key] = struct{}{}
	return true, nil
}

func (l *MemoryLedger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for key := range l.claimed {
		if key.Start.Before(cutoff) {
			delete(l.claimed, key)
			n++
		}
	}
	return n, nil
}
