// Package gonoop provides Telemetry implementations that never leave the
// process: one that drops events and one that keeps them in memory.
package gonoop

import (
	"context"
	"sync"

	"github.com/Vector/vector-leads-crm/tlmt"
)

type service struct {
}

func New() tlmt.Telemetry {
	return &service{}
}

func (s *service) Send(context.Context, tlmt.Event) error {
	return nil
}

func (s *service) Close() error {
	return nil
}

var _ tlmt.Telemetry = (*Recorder)(nil)

// Recorder keeps every sent event. Useful in tests and for debug runs.
type Recorder struct {
	mu     sync.Mutex
	events []tlmt.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(_ context.Context, event tlmt.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *Recorder) Close() error {
	return nil
}

// Events returns a copy of the recorded events named name, or all of them
// when name is empty.
func (r *Recorder) Events(name string) []tlmt.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	ans := make([]tlmt.Event, 0, len(r.events))

	for _, ev := range r.events {
		if name == "" || ev.Name == name {
			ans = append(ans, ev)
		}
	}

	return ans
}
