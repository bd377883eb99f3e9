package engine

import (
	"strconv"
	"sync"
	"time"
)

// Clock is the time source used for message, account and gift timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// monotonicClock never returns the same instant twice, even when the wrapped
// clock stalls or goes backwards.
type monotonicClock struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

func newMonotonicClock(src Clock) *monotonicClock {
	if src == nil {
		src = systemClock{}
	}
	return &monotonicClock{src: src}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.src.Now()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}

// observe moves the floor up to t, used when loading persisted records.
func (c *monotonicClock) observe(t time.Time) {
	c.mu.Lock()
	if t.After(c.last) {
		c.last = t
	}
	c.mu.Unlock()
}

// IDKind selects an id sequence.
type IDKind string

const (
	IDAccount IDKind = "account"
	IDMessage IDKind = "message"
	IDGift    IDKind = "gift"
)

// IDGenerator issues unique, increasing ids per kind.
type IDGenerator interface {
	Next(kind IDKind) string
	// Observe tells the generator an id is already taken.
	Observe(kind IDKind, id string)
}

// Sequence issues decimal ids ("1", "2", ...) per kind.
type Sequence struct {
	mu   sync.Mutex
	next map[IDKind]uint64
}

func NewSequence() *Sequence {
	return &Sequence{next: make(map[IDKind]uint64)}
}

func (s *Sequence) Next(kind IDKind) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[kind]++
	return strconv.FormatUint(s.next[kind], 10)
}

// Observe ignores ids that are not decimal; they cannot collide with ours.
func (s *Sequence) Observe(kind IDKind, id string) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return
	}
	s.mu.Lock()
	if n > s.next[kind] {
		s.next[kind] = n
	}
	s.mu.Unlock()
}
