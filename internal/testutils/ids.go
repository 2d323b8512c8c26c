// Package testutils holds helpers shared by the tests of the storage
// backends: random identifiers, contexts and repository contract suites.
package testutils

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// RandomUserID returns a user id that will not collide with other test runs
// against the same database.
func RandomUserID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// GetTimeoutContext returns a context that's already timed out
func GetTimeoutContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	t.Cleanup(cancel)
	<-ctx.Done()

	return ctx
}
