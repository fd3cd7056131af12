package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfman30/medspa-scheduling/internal/timerange"
)

// DB abstracts the pgx pool for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore persists appointments. Slot-affecting writes take a
// transaction-scoped advisory lock on the resource before checking overlap, so
// the check and the write are atomic across processes.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const appointmentColumns = `id::text, resource, start_at, duration_seconds, timezone, status, fields, customer_id, app_refs, created_at, updated_at`

const overlapQuery = `
	SELECT EXISTS (
		SELECT 1 FROM appointments
		WHERE resource = $1 AND status <> 'declined' AND id::text <> $2
		  AND start_at < $4 AND end_at > $3
	)`

func lockResource(ctx context.Context, tx pgx.Tx, resource string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, resource)
	return err
}

func overlapExists(ctx context.Context, tx pgx.Tx, resource, excludeID string, iv timerange.Interval) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, overlapQuery, resource, excludeID, iv.Start, iv.End).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) InsertIfFree(ctx context.Context, appt *Appointment, checkOverlap bool) (err error) {
	fields, err := json.Marshal(appt.Fields)
	if err != nil {
		return fmt.Errorf("appointments: marshal fields: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockResource(ctx, tx, appt.Resource); err != nil {
		return fmt.Errorf("appointments: lock resource: %w", err)
	}
	if checkOverlap && appt.Blocks() {
		exists, qerr := overlapExists(ctx, tx, appt.Resource, appt.ID, appt.Interval())
		if qerr != nil {
			err = fmt.Errorf("appointments: overlap check: %w", qerr)
			return err
		}
		if exists {
			err = ErrSlotUnavailable
			return err
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, resource, start_at, duration_seconds, end_at, timezone, status, fields, customer_id, app_refs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		appt.ID, appt.Resource, appt.Start, int64(appt.Duration/time.Second), appt.End(), appt.Timezone,
		string(appt.Status), fields, appt.CustomerID, appRefs(appt.AppRefs), appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id::text = $1`, id)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return appt, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments SET status = $1, updated_at = $2
		WHERE id::text = $3 AND status = $4`, string(to), at, id, string(from))
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, id)
	}
	return nil
}

func (s *PostgresStore) Reschedule(ctx context.Context, appt *Appointment, prevStart time.Time, prevDuration time.Duration, checkOverlap bool) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appointments: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = lockResource(ctx, tx, appt.Resource); err != nil {
		return fmt.Errorf("appointments: lock resource: %w", err)
	}
	if checkOverlap {
		exists, qerr := overlapExists(ctx, tx, appt.Resource, appt.ID, appt.Interval())
		if qerr != nil {
			err = fmt.Errorf("appointments: overlap check: %w", qerr)
			return err
		}
		if exists {
			err = ErrSlotUnavailable
			return err
		}
	}
	tag, err := tx.Exec(ctx, `
		UPDATE appointments SET start_at = $1, duration_seconds = $2, end_at = $3, updated_at = $4
		WHERE id::text = $5 AND status <> 'declined' AND start_at = $6 AND duration_seconds = $7`,
		appt.Start, int64(appt.Duration/time.Second), appt.End(), appt.UpdatedAt,
		appt.ID, prevStart, int64(prevDuration/time.Second),
	)
	if err != nil {
		return fmt.Errorf("appointments: reschedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		err = errStale
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("appointments: commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddAppRef(ctx context.Context, id, appID, externalID string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE appointments
		SET app_refs = CASE WHEN $1 = ANY(app_refs) THEN app_refs ELSE array_append(app_refs, $1) END,
		    calendar_events = calendar_events || jsonb_build_object($1::text, $3::text)
		WHERE id::text = $2`, appID, id, externalID)
	if err != nil {
		return fmt.Errorf("appointments: add app ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CalendarEvents(ctx context.Context, id string) (map[string]string, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT calendar_events FROM appointments WHERE id::text = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: calendar events: %w", err)
	}
	out := make(map[string]string)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("appointments: decode calendar events: %w", err)
		}
	}
	return out, nil
}

func (s *PostgresStore) BusyBetween(ctx context.Context, resource string, from, to time.Time, excludeID string) ([]timerange.Interval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT start_at, end_at FROM appointments
		WHERE resource = $1 AND status <> 'declined' AND id::text <> $2
		  AND start_at < $4 AND end_at > $3
		ORDER BY start_at ASC`, resource, excludeID, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: busy between: %w", err)
	}
	defer rows.Close()

	var out []timerange.Interval
	for rows.Next() {
		var iv timerange.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("appointments: busy scan: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListStarting(ctx context.Context, from, to time.Time) ([]*Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status <> 'declined' AND start_at >= $1 AND start_at < $2
		ORDER BY start_at ASC, id ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("appointments: list starting: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: list scan: %w", err)
		}
		out = append(out, appt)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReferencesApp(ctx context.Context, appID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE status = 'pending' AND $1 = ANY(app_refs))`, appID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("appointments: references app: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) missingOrStale(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM appointments WHERE id::text = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("appointments: lookup: %w", err)
	}
	return errStale
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a        Appointment
		seconds  int64
		status   string
		fields   []byte
		customer *string
		refs     []string
	)
	if err := row.Scan(&a.ID, &a.Resource, &a.Start, &seconds, &a.Timezone, &status, &fields, &customer, &refs, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Duration = time.Duration(seconds) * time.Second
	a.Status = Status(status)
	a.CustomerID = customer
	a.AppRefs = refs
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &a.Fields); err != nil {
			return nil, fmt.Errorf("appointments: decode fields: %w", err)
		}
	}
	return &a, nil
}

func appRefs(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}
