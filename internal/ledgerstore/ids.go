package ledgerstore

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idGenerator issues push ids: ULIDs, lexicographically ordered by creation
// time and strictly increasing within a process.
type idGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDGenerator() *idGenerator {
	return &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy).String()
}
