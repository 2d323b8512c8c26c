package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Vector/vector-leads-crm/models"
)

var _ models.IntegrationRepository = (*IntegrationRepository)(nil)

type IntegrationRepository struct {
	db *sql.DB
}

func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

const integrationColumns = `id, user_id, provider, access_token, refresh_token, token_type, scope, expiry, extra, created_at, updated_at`

func (r *IntegrationRepository) Get(ctx context.Context, userID, provider string) (*models.IntegrationRecord, error) {
	query := `SELECT ` + integrationColumns + `
		FROM user_integrations
		WHERE user_id = $1 AND provider = $2`

	rec, err := scanIntegration(r.db.QueryRowContext(ctx, query, userID, provider))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	return rec, nil
}

func (r *IntegrationRepository) Save(ctx context.Context, rec *models.IntegrationRecord) error {
	query := `
		INSERT INTO user_integrations (user_id, provider, access_token, refresh_token, token_type, scope, expiry, extra, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expiry = EXCLUDED.expiry,
			extra = EXCLUDED.extra,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`

	extra, err := marshalJSON(rec.Extra)
	if err != nil {
		return fmt.Errorf("encode extra: %w", err)
	}

	now := time.Now().UTC()

	return r.db.QueryRowContext(ctx, query,
		rec.UserID,
		rec.Provider,
		rec.AccessToken,
		rec.RefreshToken,
		rec.TokenType,
		rec.Scope,
		rec.Expiry.UTC(),
		extra,
		now,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (r *IntegrationRepository) Delete(ctx context.Context, userID, provider string) error {
	query := `DELETE FROM user_integrations WHERE user_id = $1 AND provider = $2`
	_, err := r.db.ExecContext(ctx, query, userID, provider)

	return err
}

func (r *IntegrationRepository) ListExpiring(ctx context.Context, provider string, before time.Time) ([]models.IntegrationRecord, error) {
	query := `SELECT ` + integrationColumns + `
		FROM user_integrations
		WHERE provider = $1 AND expiry < $2
		ORDER BY expiry`

	rows, err := r.db.QueryContext(ctx, query, provider, before.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ans []models.IntegrationRecord

	for rows.Next() {
		rec, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}

		ans = append(ans, *rec)
	}

	return ans, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntegration(row scanner) (*models.IntegrationRecord, error) {
	var (
		rec   models.IntegrationRecord
		extra []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Provider,
		&rec.AccessToken,
		&rec.RefreshToken,
		&rec.TokenType,
		&rec.Scope,
		&rec.Expiry,
		&extra,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &rec.Extra); err != nil {
			return nil, fmt.Errorf("decode extra: %w", err)
		}
	}

	return &rec, nil
}

func marshalJSON[T any](v map[string]T) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(v)
}
