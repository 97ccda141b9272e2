package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns predictable run IDs so that outcomes and history
// rows can be compared against golden files.
//
// With a prefix of "run" the generated IDs are "run-1", "run-2", and so on.
// Thread-safety: safe for concurrent use.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewFixedIDGenerator creates a generator with the given prefix.
// If prefix is empty, "test-run" is used.
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "test-run"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next ID in the sequence.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence. The next call to Generate returns prefix-1.
func (g *FixedIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
