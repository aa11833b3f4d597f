package engine

import (
	"sync"

	"github.com/google/uuid"
)

// ScanIDGenerator generates the scanId stamped on each ledger entry.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type ScanIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 scan ids.
//
// The authority can use the id to drop a batch entry it has already applied
// when an upload is retried after a lost response.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined scan ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("scan-1", "scan-2")
//	gen.Generate() // "scan-1"
//	gen.Generate() // "scan-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed: a test scanned more often than it
// planned for.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
