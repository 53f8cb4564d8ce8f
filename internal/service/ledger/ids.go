package ledger

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	topupIDPrefix       = "top_"
	transactionIDPrefix = "txn_"
)

// Ledger entry ids are ULIDs: lexical order follows creation time, ties inside a millisecond stay ordered
type idGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDGenerator() *idGenerator {
	return &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGenerator) transactionID(at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return transactionIDPrefix + ulid.MustNew(ulid.Timestamp(at), g.entropy).String()
}

func (g *idGenerator) topupID() string {
	return topupIDPrefix + uuid.NewString()
}
