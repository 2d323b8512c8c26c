package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Vector/vector-leads-crm/models"
)

const stateKeyPrefix = "oauth:state:"

var _ models.AuthorizationStateRepository = (*StateStore)(nil)

// StateStore keeps authorization states in Redis. Keys expire with the
// state, so DeleteExpired has nothing to do.
type StateStore struct {
	rdb goredis.UniversalClient
}

func NewStateStore(rdb goredis.UniversalClient) *StateStore {
	return &StateStore{rdb: rdb}
}

type storedState struct {
	UserID    string    `json:"user_id"`
	Nonce     string    `json:"nonce"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *StateStore) Create(ctx context.Context, st *models.AuthorizationState) error {
	ttl := time.Until(st.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization state already expired at %s", st.ExpiresAt)
	}

	payload, err := json.Marshal(storedState{
		UserID:    st.UserID,
		Nonce:     st.Nonce,
		CreatedAt: st.CreatedAt.UTC(),
		ExpiresAt: st.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode authorization state: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, stateKeyPrefix+st.State, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store authorization state: %w", err)
	}

	if !ok {
		return fmt.Errorf("authorization state collision")
	}

	return nil
}

// Consume uses GETDEL, so a state can be read at most once.
func (s *StateStore) Consume(ctx context.Context, state string, now time.Time) (*models.AuthorizationState, error) {
	raw, err := s.rdb.GetDel(ctx, stateKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, models.ErrNotFound
		}

		return nil, fmt.Errorf("consume authorization state: %w", err)
	}

	var stored storedState
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode authorization state: %w", err)
	}

	if stored.ExpiresAt.Before(now) {
		return nil, models.ErrNotFound
	}

	return &models.AuthorizationState{
		State:     state,
		UserID:    stored.UserID,
		Nonce:     stored.Nonce,
		CreatedAt: stored.CreatedAt,
		ExpiresAt: stored.ExpiresAt,
	}, nil
}

func (s *StateStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
