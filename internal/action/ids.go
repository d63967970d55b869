package action

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces unique action IDs for Meta.ID.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 action IDs, which keeps
// journal rows roughly in creation order when sorted by ID.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined IDs, then falls back to a numbered
// sequence with the given prefix. Used for deterministic tests and golden traces.
type FixedGenerator struct {
	mu     sync.Mutex
	prefix string
	ids    []string
	n      int
}

// NewFixedGenerator creates a generator returning ids in order, then
// prefix+"1", prefix+"2", and so on.
func NewFixedGenerator(prefix string, ids ...string) *FixedGenerator {
	return &FixedGenerator{prefix: prefix, ids: ids}
}

// Generate returns the next ID.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.ids) > 0 {
		id := g.ids[0]
		g.ids = g.ids[1:]
		return id
	}
	g.n++
	return g.prefix + strconv.Itoa(g.n)
}
