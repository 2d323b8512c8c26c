package integrations

import (
	"sync"
)

// refreshGuard allows at most one refresh per user at a time within this
// process. It is advisory across processes; the store's upsert-by-key keeps
// concurrent writers from diverging.
type refreshGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newRefreshGuard() *refreshGuard {
	return &refreshGuard{held: make(map[string]struct{})}
}

// tryAcquire returns a release func and true if no refresh for userID is in flight.
// Only users with a refresh in flight occupy the guard.
func (g *refreshGuard) tryAcquire(userID string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.held[userID]; busy {
		return nil, false
	}

	g.held[userID] = struct{}{}

	var once sync.Once

	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, userID)
			g.mu.Unlock()
		})
	}, true
}

func (g *refreshGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.held)
}
