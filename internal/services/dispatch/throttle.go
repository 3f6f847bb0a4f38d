package dispatch

import (
	"sync"
	"time"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

// throttle suppresses small value changes that arrive faster than a target
// can use them. State is per (kind, number).
type throttle struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[mapping.Key]throttleState
}

type throttleState struct {
	value int
	at    time.Time
}

func newThrottle(now func() time.Time) *throttle {
	if now == nil {
		now = time.Now
	}
	return &throttle{now: now, last: make(map[mapping.Key]throttleState)}
}

// allow reports whether raw should be forwarded and, if so, remembers it.
func (t *throttle) allow(key mapping.Key, raw int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	prev, seen := t.last[key]
	if !seen {
		t.last[key] = throttleState{value: raw, at: now}
		return true
	}

	elapsed := now.Sub(prev.at).Milliseconds()
	delta := raw - prev.value
	if delta < 0 {
		delta = -delta
	}
	if elapsed > 1000 {
		delta = 1000
	}

	pass := (elapsed > 10 && elapsed <= 100 && delta > 5) ||
		(elapsed > 100 && elapsed <= 150 && delta > 2) ||
		(elapsed > 150 && delta > 0) ||
		delta > 30 ||
		raw <= 2 || raw >= 125

	if pass {
		t.last[key] = throttleState{value: raw, at: now}
	}
	return pass
}
