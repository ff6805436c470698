// Package testutil provides deterministic fakes for the host collaborators.
package testutil

import (
	"strconv"
	"sync"
	"time"
)

// Epoch is the time FixedClock starts at. Purge deadlines in tests are
// expressed relative to it.
var Epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// StubClock is a host.Clock that only moves when told to. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to Epoch.
func FixedClock() *StubClock {
	return NewStubClock(Epoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvancePast moves the clock just beyond deadline, so that a soft-deleted
// row with that purge_at is due. A clock already past it is left alone.
func (c *StubClock) AdvancePast(deadline time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now.After(deadline) {
		c.now = deadline.Add(time.Second)
	}
}

// StubIDGenerator issues rebuild session IDs "session-1", "session-2", ...
type StubIDGenerator struct {
	mu     sync.Mutex
	issued []string
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := "session-" + strconv.Itoa(len(g.issued)+1)
	g.issued = append(g.issued, id)
	return id
}

// Issued returns every ID handed out so far, oldest first.
func (g *StubIDGenerator) Issued() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.issued...)
}
