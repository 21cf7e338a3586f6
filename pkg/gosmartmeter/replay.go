package gosmartmeter

import (
	"errors"
	"fmt"
	"sync"
)

// ErrReplay marks an authenticated notification whose invocation counter did
// not increase.
var ErrReplay = errors.New("invocation counter replayed")

// ReplayGuard remembers the highest accepted invocation counter per system
// title. It is safe for concurrent use.
type ReplayGuard struct {
	mu   sync.Mutex
	last map[string]uint32
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{last: make(map[string]uint32)}
}

// Observe accepts counter when it is greater than the last accepted counter
// for title and records it. Otherwise it returns ErrReplay and keeps state.
func (g *ReplayGuard) Observe(title string, counter uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		g.last = make(map[string]uint32)
	}
	if prev, ok := g.last[title]; ok && counter <= prev {
		return fmt.Errorf("%w: counter %d for %s, last accepted %d", ErrReplay, counter, title, prev)
	}
	g.last[title] = counter
	return nil
}

// Last returns the highest accepted counter for title.
func (g *ReplayGuard) Last(title string) (uint32, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.last[title]
	return v, ok
}
