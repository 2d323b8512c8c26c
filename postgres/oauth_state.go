package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Vector/vector-leads-crm/models"
)

var _ models.AuthorizationStateRepository = (*AuthorizationStateRepository)(nil)

type AuthorizationStateRepository struct {
	db *sql.DB
}

func NewAuthorizationStateRepository(db *sql.DB) *AuthorizationStateRepository {
	return &AuthorizationStateRepository{db: db}
}

func (r *AuthorizationStateRepository) Create(ctx context.Context, st *models.AuthorizationState) error {
	query := `
		INSERT INTO oauth_states (state, user_id, nonce, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, st.State, st.UserID, st.Nonce, st.CreatedAt.UTC(), st.ExpiresAt.UTC())

	return err
}

// Consume deletes and returns the state in one statement, so two callbacks
// racing on the same state cannot both succeed.
func (r *AuthorizationStateRepository) Consume(ctx context.Context, state string, now time.Time) (*models.AuthorizationState, error) {
	query := `
		DELETE FROM oauth_states
		WHERE state = $1 AND expires_at >= $2
		RETURNING state, user_id, nonce, created_at, expires_at
	`

	var st models.AuthorizationState

	err := r.db.QueryRowContext(ctx, query, state, now.UTC()).Scan(
		&st.State,
		&st.UserID,
		&st.Nonce,
		&st.CreatedAt,
		&st.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}

		return nil, err
	}

	return &st, nil
}

func (r *AuthorizationStateRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
