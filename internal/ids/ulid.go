// Package ids generates monotonic, lexicographically sortable identifiers
// for staging files, artifacts, and manifest versions.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is shared across goroutines. ulid.Monotonic keeps internal state
// per instance and does no locking of its own, so every use of it is
// serialized through mu.
var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID string for the current instant. Concurrent calls
// are serialized to preserve monotonicity within the same millisecond.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewAt returns a new ULID string for a caller-supplied instant, used when
// backdating an identifier (e.g. recovered staging files) to its original
// timestamp rather than now.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Time extracts the embedded timestamp from a ULID string. It returns the
// zero Time if id is not a valid ULID.
func Time(id string) time.Time {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(parsed.Time())
}

// Valid reports whether id parses as a well-formed ULID.
func Valid(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}
