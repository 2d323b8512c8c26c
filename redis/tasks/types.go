package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TypeTokenSweep     = "integrations:token-sweep"
	TypeStatePurge     = "integrations:state-purge"
	TypeHealthCheck    = "health:check"
	TypeConnectionTest = "connection:test"
)

// TokenSweepPayload selects the provider whose tokens are swept.
type TokenSweepPayload struct {
	Provider string `json:"provider"`
}

// NewTokenSweepTask builds the task enqueued by the scheduler and by on-demand triggers.
func NewTokenSweepTask(provider string) (*asynq.Task, error) {
	payload, err := json.Marshal(TokenSweepPayload{Provider: provider})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token sweep payload: %w", err)
	}

	return asynq.NewTask(TypeTokenSweep, payload), nil
}
