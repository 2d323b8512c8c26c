// Package memory provides process-local implementations of the integration
// repositories. It backs tests and ephemeral single-process runs.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Vector/vector-leads-crm/models"
)

var (
	_ models.IntegrationRepository        = (*Store)(nil)
	_ models.LifecycleEventRepository     = (*Store)(nil)
	_ models.AuthorizationStateRepository = (*Store)(nil)
)

type integrationKey struct {
	userID   string
	provider string
}

// Store keeps integrations, lifecycle events and authorization states in maps.
type Store struct {
	mu           *sync.RWMutex
	integrations map[integrationKey]models.IntegrationRecord
	events       []models.LifecycleEvent
	states       map[string]models.AuthorizationState
}

func New() *Store {
	return &Store{
		mu:           &sync.RWMutex{},
		integrations: make(map[integrationKey]models.IntegrationRecord),
		states:       make(map[string]models.AuthorizationState),
	}
}

func (s *Store) Get(_ context.Context, userID, provider string) (*models.IntegrationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.integrations[integrationKey{userID, provider}]
	if !ok {
		return nil, models.ErrNotFound
	}

	rec.Extra = maps.Clone(rec.Extra)

	return &rec, nil
}

func (s *Store) Save(_ context.Context, record *models.IntegrationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := integrationKey{record.UserID, record.Provider}
	now := time.Now().UTC()

	if existing, ok := s.integrations[key]; ok {
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
	} else {
		if record.ID == "" {
			record.ID = uuid.New().String()
		}

		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
	}

	record.UpdatedAt = now

	stored := *record
	stored.Extra = maps.Clone(record.Extra)
	s.integrations[key] = stored

	return nil
}

func (s *Store) Delete(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.integrations, integrationKey{userID, provider})

	return nil
}

func (s *Store) ListExpiring(_ context.Context, provider string, before time.Time) ([]models.IntegrationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ans []models.IntegrationRecord

	for key, rec := range s.integrations {
		if key.provider == provider && rec.Expiry.Before(before) {
			ans = append(ans, rec)
		}
	}

	sort.Slice(ans, func(i, j int) bool {
		return ans[i].Expiry.Before(ans[j].Expiry)
	})

	return ans, nil
}

func (s *Store) Append(_ context.Context, event *models.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	stored := *event
	stored.Details = maps.Clone(event.Details)
	s.events = append(s.events, stored)

	return nil
}

func (s *Store) ListByUser(_ context.Context, userID string, limit int) ([]models.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ans []models.LifecycleEvent

	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].UserID != userID {
			continue
		}

		ans = append(ans, s.events[i])

		if limit > 0 && len(ans) == limit {
			break
		}
	}

	return ans, nil
}

func (s *Store) Create(_ context.Context, state *models.AuthorizationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[state.State] = *state

	return nil
}

func (s *Store) Consume(_ context.Context, state string, now time.Time) (*models.AuthorizationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state]
	if !ok || st.ExpiresAt.Before(now) {
		return nil, models.ErrNotFound
	}

	delete(s.states, state)

	return &st, nil
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64

	for k, st := range s.states {
		if st.ExpiresAt.Before(now) {
			delete(s.states, k)
			n++
		}
	}

	return n, nil
}
