// Package deduper remembers which catalog item ids were already emitted
// during one enumeration.
package deduper

import (
	"context"
	"sync"
)

type Deduper interface {
	// AddIfNotExists records key and reports whether it was new.
	AddIfNotExists(context.Context, string) bool
	// Len is the number of distinct keys recorded.
	Len() int
}

// New returns an empty Deduper sized for about sizeHint keys.
func New(sizeHint int) Deduper {
	if sizeHint < 0 {
		sizeHint = 0
	}

	return &hashmap{
		seen: make(map[uint64]struct{}, sizeHint),
		mux:  &sync.RWMutex{},
	}
}
