package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewTransactionID returns a ULID. IDs minted in the same millisecond by this process
// are strictly increasing, so ID order agrees with creation order.
func NewTransactionID(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// NewRequestID returns a random UUID for top-up requests.
func NewRequestID() string {
	return uuid.New().String()
}
