package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Vector/vector-leads-crm/models"
)

var _ models.LifecycleEventRepository = (*LifecycleEventRepository)(nil)

// LifecycleEventRepository is the append-only integration_events log.
type LifecycleEventRepository struct {
	db *sql.DB
}

func NewLifecycleEventRepository(db *sql.DB) *LifecycleEventRepository {
	return &LifecycleEventRepository{db: db}
}

func (r *LifecycleEventRepository) Append(ctx context.Context, event *models.LifecycleEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	details, err := marshalJSON(event.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}

	query := `
		INSERT INTO integration_events (id, user_id, provider, event_type, status, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.Provider,
		event.EventType,
		event.Status,
		details,
		event.CreatedAt.UTC(),
	)

	return err
}

func (r *LifecycleEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.LifecycleEvent, error) {
	query := `
		SELECT id, user_id, provider, event_type, status, details, created_at
		FROM integration_events
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ans []models.LifecycleEvent

	for rows.Next() {
		var (
			ev      models.LifecycleEvent
			details []byte
		)

		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Provider, &ev.EventType, &ev.Status, &details, &ev.CreatedAt); err != nil {
			return nil, err
		}

		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}

		ans = append(ans, ev)
	}

	return ans, rows.Err()
}
