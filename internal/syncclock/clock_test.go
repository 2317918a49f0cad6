package syncclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClockAdvance(t *testing.T) {
	c := NewFixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2026, c.Now().Year())
	c.Advance(24 * time.Hour)
	assert.Equal(t, 2, c.Now().Day())
}

func TestSequentialGeneratorIsDeterministic(t *testing.T) {
	g := &SequentialGenerator{Prefix: "ob"}
	assert.Equal(t, "ob-1", g.NewID())
	assert.Equal(t, "ob-2", g.NewID())
}

func TestUUIDGeneratorProducesDistinctIDs(t *testing.T) {
	g := UUIDGenerator{}
	a, b := g.NewID(), g.NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
