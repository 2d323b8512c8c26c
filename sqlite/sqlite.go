// Package sqlite stores integrations, lifecycle events and authorization
// states in a single SQLite file. It backs single-node deployments and local
// development; production uses the postgres package.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/Vector/vector-leads-crm/models"
)

var (
	_ models.IntegrationRepository        = (*Store)(nil)
	_ models.LifecycleEventRepository     = (*Store)(nil)
	_ models.AuthorizationStateRepository = (*Store)(nil)
)

// Store implements every repository over one *sql.DB.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := initDatabase(path)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, userID, provider string) (*models.IntegrationRecord, error) {
	const q = `SELECT id, user_id, provider, access_token, refresh_token, token_type, scope, expiry, extra, created_at, updated_at
		FROM user_integrations WHERE user_id = ? AND provider = ?`

	rec, err := rowToIntegration(s.db.QueryRowContext(ctx, q, userID, provider))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	return rec, nil
}

func (s *Store) Save(ctx context.Context, rec *models.IntegrationRecord) error {
	const q = `INSERT INTO user_integrations
		(id, user_id, provider, access_token, refresh_token, token_type, scope, expiry, extra, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expiry = excluded.expiry,
			extra = excluded.extra,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at`

	extra, err := encodeMap(rec.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}

	id := rec.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now().UTC().Unix()

	var createdAt, updatedAt int64

	err = s.db.QueryRowContext(ctx, q,
		id,
		rec.UserID,
		rec.Provider,
		rec.AccessToken,
		rec.RefreshToken,
		rec.TokenType,
		rec.Scope,
		rec.Expiry.UTC().Unix(),
		extra,
		now,
		now,
	).Scan(&rec.ID, &createdAt, &updatedAt)
	if err != nil {
		return err
	}

	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return nil
}

func (s *Store) Delete(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_integrations WHERE user_id = ? AND provider = ?`, userID, provider)

	return err
}

func (s *Store) ListExpiring(ctx context.Context, provider string, before time.Time) ([]models.IntegrationRecord, error) {
	const q = `SELECT id, user_id, provider, access_token, refresh_token, token_type, scope, expiry, extra, created_at, updated_at
		FROM user_integrations WHERE provider = ? AND expiry < ? ORDER BY expiry`

	rows, err := s.db.QueryContext(ctx, q, provider, before.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ans []models.IntegrationRecord

	for rows.Next() {
		rec, err := rowToIntegration(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, *rec)
	}

	return ans, rows.Err()
}

func (s *Store) Append(ctx context.Context, event *models.LifecycleEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	details, err := encodeMap(event.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}

	const q = `INSERT INTO integration_events (id, user_id, provider, event_type, status, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		event.ID,
		event.UserID,
		event.Provider,
		event.EventType,
		event.Status,
		details,
		event.CreatedAt.UTC().UnixNano(),
	)

	return err
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]models.LifecycleEvent, error) {
	q := `SELECT id, user_id, provider, event_type, status, details, created_at
		FROM integration_events WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`

	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ans []models.LifecycleEvent

	for rows.Next() {
		var (
			ev        models.LifecycleEvent
			details   string
			createdAt int64
		)

		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Provider, &ev.EventType, &ev.Status, &details, &createdAt); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}

		ev.CreatedAt = time.Unix(0, createdAt).UTC()
		ans = append(ans, ev)
	}

	return ans, rows.Err()
}

func (s *Store) Create(ctx context.Context, st *models.AuthorizationState) error {
	const q = `INSERT INTO oauth_states (state, user_id, nonce, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q, st.State, st.UserID, st.Nonce, st.CreatedAt.UTC().Unix(), st.ExpiresAt.UTC().Unix())

	return err
}

func (s *Store) Consume(ctx context.Context, state string, now time.Time) (*models.AuthorizationState, error) {
	const q = `DELETE FROM oauth_states WHERE state = ? AND expires_at >= ?
		RETURNING state, user_id, nonce, created_at, expires_at`

	var (
		st                   models.AuthorizationState
		createdAt, expiresAt int64
	)

	err := s.db.QueryRowContext(ctx, q, state, now.UTC().Unix()).Scan(&st.State, &st.UserID, &st.Nonce, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	st.CreatedAt = time.Unix(createdAt, 0).UTC()
	st.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	return &st, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < ?`, now.UTC().Unix())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func rowToIntegration(row scanner) (*models.IntegrationRecord, error) {
	var (
		rec                          models.IntegrationRecord
		extra                        string
		expiry, createdAt, updatedAt int64
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Provider,
		&rec.AccessToken,
		&rec.RefreshToken,
		&rec.TokenType,
		&rec.Scope,
		&expiry,
		&extra,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(extra), &rec.Extra); err != nil {
		return nil, fmt.Errorf("decode extra: %w", err)
	}

	rec.Expiry = time.Unix(expiry, 0).UTC()
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &rec, nil
}

func encodeMap[T any](m map[string]T) (string, error) {
	if m == nil {
		return "{}", nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func initDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 1000",
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS user_integrations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			token_type TEXT NOT NULL DEFAULT '',
			scope TEXT NOT NULL DEFAULT '',
			expiry INT NOT NULL,
			extra TEXT NOT NULL DEFAULT '{}',
			created_at INT NOT NULL,
			updated_at INT NOT NULL,
			UNIQUE (user_id, provider)
		);

		CREATE INDEX IF NOT EXISTS idx_user_integrations_provider_expiry
			ON user_integrations (provider, expiry);

		CREATE TABLE IF NOT EXISTS integration_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '{}',
			created_at INT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_integration_events_user_created
			ON integration_events (user_id, created_at);

		CREATE TABLE IF NOT EXISTS oauth_states (
			state TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			nonce TEXT NOT NULL,
			created_at INT NOT NULL,
			expires_at INT NOT NULL
		);
	`)

	return err
}
