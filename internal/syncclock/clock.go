// Package syncclock provides the wall clock and ID generator used across the
// sync core (C1). Every component takes a Clock instead of calling time.Now
// directly, so tests can pin time deterministically.
package syncclock

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so outbox/lock/conflict timestamps can be
// pinned in tests without sleeping or mocking the standard library.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a test Clock that always returns the same instant, or one
// advanced manually via Advance.
type FixedClock struct {
	at time.Time
}

// NewFixedClock returns a FixedClock pinned to at.
func NewFixedClock(at time.Time) *FixedClock {
	return &FixedClock{at: at.UTC()}
}

// Now returns the pinned instant.
func (c *FixedClock) Now() time.Time { return c.at }

// Advance moves the pinned instant forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.at = c.at.Add(d)
}

// IDGenerator mints globally unique IDs for outbox items, conflict log
// entries, and lock tokens. Sync idempotency keys must be unique with no
// content-hash collisions across devices, so this uses UUIDv4 rather than
// the teacher's deterministic content-hash scheme (see DESIGN.md).
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production IDGenerator.
type UUIDGenerator struct{}

// NewID returns a new random UUIDv4 string.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequentialGenerator is a deterministic test IDGenerator producing
// prefix-N IDs in call order, for fixtures that assert on exact IDs.
type SequentialGenerator struct {
	Prefix string
	next   int
}

// NewID returns the next "<prefix>-<n>" ID, starting at 1. With an empty
// Prefix it returns a random UUIDv4 instead.
func (g *SequentialGenerator) NewID() string {
	g.next++
	if g.Prefix == "" {
		return uuid.NewString()
	}
	return g.Prefix + "-" + strconv.Itoa(g.next)
}
