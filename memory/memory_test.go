package memory

import (
	"testing"

	"github.com/Vector/vector-leads-crm/internal/testutils"
)

func TestStore(t *testing.T) {
	t.Run("integrations", func(t *testing.T) {
		testutils.IntegrationRepositorySuite(t, New())
	})

	t.Run("lifecycle events", func(t *testing.T) {
		testutils.LifecycleEventRepositorySuite(t, New())
	})

	t.Run("authorization states", func(t *testing.T) {
		testutils.AuthorizationStateRepositorySuite(t, New())
	})
}
