// Package id generates the identifiers this service mints locally.
//
// ULIDs are used because they are lexicographically sortable: request ids
// line up in log order and snapshot names sort by creation time without a
// separate timestamp. Prefixes make the id's domain readable in logs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID correlates one remote API call across logs and metrics.
type RequestID string

// SnapshotID names a folder or store snapshot; sorts by creation time.
type SnapshotID string

func (id RequestID) String() string  { return string(id) }
func (id SnapshotID) String() string { return string(id) }

const (
	RequestPrefix  = "req"
	SnapshotPrefix = "snap"
)

// Generator mints ULIDs from a guarded entropy source.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGen *Generator
	once       sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGen = NewGenerator(rand.Reader)
	})
	return defaultGen
}

// NewGenerator creates a generator reading entropy from r. Tests pass a
// deterministic reader.
func NewGenerator(r io.Reader) *Generator {
	return &Generator{entropy: r}
}

// Generate mints one ULID at the current time.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix mints a prefixed ULID string, e.g. "req_01J...".
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRequestID mints a correlation id for one remote call.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSnapshotID mints a time-sortable snapshot name.
func NewSnapshotID() SnapshotID {
	return SnapshotID(Default().GenerateWithPrefix(SnapshotPrefix))
}

// IsValid reports whether s parses as a bare ULID.
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}
