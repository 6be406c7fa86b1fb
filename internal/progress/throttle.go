package progress

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sink is an editable status display, such as a chat message, identified by
// a stable key.
type Sink interface {
	ID() string
	Edit(ctx context.Context, text string) error
}

type gate struct {
	last     time.Time
	inflight int
}

// Throttle rate-limits edits per sink identity. Entries live for the
// lifetime of the Throttle.
type Throttle struct {
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	gates map[string]*gate
}

func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		now:      time.Now,
		gates:    make(map[string]*gate),
	}
}

// WithClock swaps the time source. Used by tests.
func (t *Throttle) WithClock(now func() time.Time) *Throttle {
	t.now = now
	return t
}

// Report edits the sink only if the interval has passed since the last
// successful edit to the same identity. It reports whether the edit went
// through. Sink errors are logged and swallowed.
func (t *Throttle) Report(ctx context.Context, sink Sink, text string) bool {
	if sink == nil {
		return false
	}
	id := sink.ID()

	t.mu.Lock()
	g, ok := t.gates[id]
	if !ok {
		g = &gate{}
		t.gates[id] = g
	}
	if g.inflight > 0 || (!g.last.IsZero() && t.now().Sub(g.last) < t.interval) {
		t.mu.Unlock()
		return false
	}
	g.inflight++
	t.mu.Unlock()

	return t.edit(ctx, g, sink, text)
}

// Done pushes a final message regardless of the rate limit.
func (t *Throttle) Done(ctx context.Context, sink Sink, text string) bool {
	if sink == nil {
		return false
	}
	id := sink.ID()

	t.mu.Lock()
	g, ok := t.gates[id]
	if !ok {
		g = &gate{}
		t.gates[id] = g
	}
	g.inflight++
	t.mu.Unlock()

	return t.edit(ctx, g, sink, text)
}

func (t *Throttle) edit(ctx context.Context, g *gate, sink Sink, text string) bool {
	err := sink.Edit(ctx, text)

	t.mu.Lock()
	defer t.mu.Unlock()
	g.inflight--
	if err != nil {
		log.Printf("[Progress] edit %s failed: %v", sink.ID(), err)
		return false
	}
	g.last = t.now()
	return true
}

// Len returns the number of identities seen so far.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.gates)
}
