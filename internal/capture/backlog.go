package capture

import (
	"strings"
	"sync"

	"github.com/eapache/queue"
)

// DefaultBacklogLines is the capacity used when a non-positive limit is given.
const DefaultBacklogLines = 1000

// Backlog is a bounded FIFO of output lines.
//
// Lines are stored exactly as relayed, including their trailing newline
// when they have one. Once Len reaches the limit each Push evicts the
// oldest line.
//
// All methods are safe for concurrent use: the relay goroutine pushes while
// gateway and test code read.
type Backlog struct {
	mu      sync.RWMutex
	lines   *queue.Queue
	limit   int
	dropped int
}

// NewBacklog creates a Backlog holding at most limit lines.
func NewBacklog(limit int) *Backlog {
	if limit <= 0 {
		limit = DefaultBacklogLines
	}
	return &Backlog{
		lines: queue.New(),
		limit: limit,
	}
}

// Push appends a line, evicting the oldest line if the backlog is full.
func (b *Backlog) Push(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.lines.Length() >= b.limit {
		b.lines.Remove()
		b.dropped++
	}
	b.lines.Add(line)
}

// Lines returns a copy of the retained lines, oldest first.
func (b *Backlog) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, b.lines.Length())
	for i := range out {
		out[i] = b.lines.Get(i).(string)
	}
	return out
}

// Tail returns up to n of the most recent lines, oldest first.
func (b *Backlog) Tail(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := b.lines.Length()
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = b.lines.Get(total - n + i).(string)
	}
	return out
}

// String concatenates the retained lines.
func (b *Backlog) String() string {
	return strings.Join(b.Lines(), "")
}

// Len returns the number of retained lines.
func (b *Backlog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lines.Length()
}

// Dropped returns how many lines have been evicted.
func (b *Backlog) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Limit returns the maximum number of retained lines.
func (b *Backlog) Limit() int {
	return b.limit
}
