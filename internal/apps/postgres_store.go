package apps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists connected apps in the connected_apps table.
type PostgresStore struct {
	db  DB
	now func() time.Time
}

// NewPostgresStore creates a pgx-backed store.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const appColumns = `id::text, name, scopes, status, data, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, app *ConnectedApp) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO connected_apps (id, name, scopes, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		app.ID, app.Name, scopeStrings(app.Scopes), string(app.Status), nullableJSON(app.Data), app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("apps: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*ConnectedApp, error) {
	row := s.db.QueryRow(ctx, `SELECT `+appColumns+` FROM connected_apps WHERE id = $1`, id)
	app, err := scanApp(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("apps: get: %w", err)
	}
	return app, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*ConnectedApp, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+appColumns+`
		FROM connected_apps
		WHERE ($1 = '' OR name = $1)
		  AND ($2 = '' OR $2 = ANY(scopes))
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY created_at ASC, id ASC`,
		filter.Name, string(filter.Scope), statuses,
	)
	if err != nil {
		return nil, fmt.Errorf("apps: list: %w", err)
	}
	defer rows.Close()

	var out []*ConnectedApp
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("apps: list scan: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("apps: list rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE connected_apps SET status = $1, updated_at = $2
		WHERE id = $3 AND status <> $1`, string(status), s.now(), id)
	if err != nil {
		return false, fmt.Errorf("apps: update status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var current string
	err = s.db.QueryRow(ctx, `SELECT status FROM connected_apps WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrAppNotFound
	}
	if err != nil {
		return false, fmt.Errorf("apps: update status: %w", err)
	}
	return false, nil
}

func (s *PostgresStore) UpdateData(ctx context.Context, id string, data json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE connected_apps SET data = $1, updated_at = $2 WHERE id = $3`,
		nullableJSON(data), s.now(), id)
	if err != nil {
		return fmt.Errorf("apps: update data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM connected_apps WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("apps: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppNotFound
	}
	return nil
}

func scanApp(row pgx.Row) (*ConnectedApp, error) {
	var (
		app    ConnectedApp
		scopes []string
		status string
		data   []byte
	)
	if err := row.Scan(&app.ID, &app.Name, &scopes, &status, &data, &app.CreatedAt, &app.UpdatedAt); err != nil {
		return nil, err
	}
	app.Scopes = make([]Scope, len(scopes))
	for i, sc := range scopes {
		app.Scopes[i] = Scope(sc)
	}
	app.Status = Status(status)
	if len(data) > 0 {
		app.Data = json.RawMessage(data)
	}
	return &app, nil
}

func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}
