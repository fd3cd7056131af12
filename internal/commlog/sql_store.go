package commlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// SQLStore persists entries in the communication_logs table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Append(ctx context.Context, e *Entry) error {
	prepare(e)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO communication_logs (id, channel, direction, sender, recipients, subject, body, app_id, appointment_id, date_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10)`,
		e.ID, string(e.Channel), string(e.Direction), e.From, pq.Array(e.To), e.Subject, e.Text, e.AppID, e.AppointmentID, e.DateTime)
	if err != nil {
		return fmt.Errorf("commlog: append: %w", err)
	}
	return nil
}

func (s *SQLStore) ListBetween(ctx context.Context, from, to time.Time) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel, direction, sender, recipients, subject, body,
		       COALESCE(app_id::text, ''), COALESCE(appointment_id::text, ''), date_time
		FROM communication_logs
		WHERE date_time >= $1 AND date_time < $2
		ORDER BY date_time ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("commlog: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			channel, direction string
		)
		if err := rows.Scan(&e.ID, &channel, &direction, &e.From, pq.Array(&e.To), &e.Subject, &e.Text,
			&e.AppID, &e.AppointmentID, &e.DateTime); err != nil {
			return nil, fmt.Errorf("commlog: scan: %w", err)
		}
		e.Channel = Channel(channel)
		e.Direction = Direction(direction)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM communication_logs WHERE date_time < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("commlog: delete older than: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("commlog: rows affected: %w", err)
	}
	return n, nil
}
