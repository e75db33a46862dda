package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULIDs keep ledger rows lexicographically ordered by creation time, which
// makes "order by id" a stable creation-order sort.

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh identifier.
func New() string {
	return At(time.Now())
}

// At returns an identifier stamped with the given time. Used by tests that
// need deterministic ordering.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
