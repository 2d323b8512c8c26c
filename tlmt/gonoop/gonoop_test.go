package gonoop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Vector/vector-leads-crm/tlmt"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()

	require.NoError(t, r.Send(ctx, tlmt.Event{Name: "a"}))
	require.NoError(t, r.Send(ctx, tlmt.Event{Name: "b"}))
	require.NoError(t, r.Send(ctx, tlmt.Event{Name: "a"}))

	assert.Len(t, r.Events(""), 3)
	assert.Len(t, r.Events("a"), 2)
	assert.Empty(t, r.Events("c"))
	assert.NoError(t, r.Close())
}

func TestNoop(t *testing.T) {
	s := New()

	assert.NoError(t, s.Send(context.Background(), tlmt.Event{Name: "a"}))
	assert.NoError(t, s.Close())
}
