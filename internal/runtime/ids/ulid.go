// Package ids generates the identifiers attached to published records.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces ULIDs that sort by creation time. Identifiers created
// within the same millisecond stay strictly increasing.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewGenerator returns a Generator reading randomness from source. A nil source
// uses crypto/rand.
func NewGenerator(source io.Reader) *Generator {
	if source == nil {
		source = rand.Reader
	}
	return &Generator{entropy: ulid.Monotonic(source, 0), now: time.Now}
}

// New returns a 26-character ULID string.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var defaultGenerator = NewGenerator(nil)

// NewMessageID returns a ULID from the shared generator.
func NewMessageID() string {
	return defaultGenerator.New()
}

// Time extracts the creation time encoded in a message id.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
