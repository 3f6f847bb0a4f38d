// Package mapping holds the declarative MIDI mapping as an immutable snapshot.
//
// A Store is built wholesale from a configuration document and never mutated
// afterwards. Reloading produces a new Store; the previous one is simply
// dropped once no dispatch references it.
package mapping

import (
	"fmt"
	"sort"
	"time"

	"github.com/bbernstein/lacylights-midi/internal/services/scaling"
)

// EventKind identifies which MIDI message family an event belongs to.
type EventKind int

const (
	// KindOther covers every message the bridge does not map.
	KindOther EventKind = iota
	// ControlChange carries a controller number and value.
	ControlChange
	// NoteOn carries a note number and velocity.
	NoteOn
	// NoteOff carries a note number and release velocity.
	NoteOff
)

// String returns the configuration name of the kind.
func (k EventKind) String() string {
	switch k {
	case ControlChange:
		return "control_change"
	case NoteOn:
		return "note_on"
	case NoteOff:
		return "note_off"
	default:
		return "other"
	}
}

// TargetKind selects the output sink for a rule.
type TargetKind string

const (
	TargetOSC     TargetKind = "osc"
	TargetHTTP    TargetKind = "http"
	TargetCommand TargetKind = "command"
)

// DefaultAttribute is the HTTP payload key used when a rule sets none.
const DefaultAttribute = "value"

// ScalingSpec selects the curve applied to the normalized input.
type ScalingSpec struct {
	Algorithm scaling.Algorithm `json:"algorithm"`
	Base      float64           `json:"base"`
}

// Rule describes what one mapped MIDI event produces.
type Rule struct {
	Target    TargetKind  `json:"type"`
	Address   string      `json:"address,omitempty"`
	Attribute string      `json:"attribute,omitempty"`
	Min       float64     `json:"min"`
	Max       float64     `json:"max"`
	Scaling   ScalingSpec `json:"scaling"`
	Command   string      `json:"command,omitempty"`
	Throttle  bool        `json:"throttle,omitempty"`
}

// Key addresses a rule by event kind and MIDI number.
type Key struct {
	Kind   EventKind
	Number int
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Kind, k.Number)
}

// Settings are the global, non-rule parts of a mapping document.
type Settings struct {
	InputDevice  string `json:"inputDevice"`
	InputChannel int    `json:"inputChannel"` // 0-based
	OSCHost      string `json:"oscHost"`
	OSCPort      int    `json:"oscPort"`
	HTTPHost     string `json:"httpHost"`
	Debug        bool   `json:"debug"`
}

// OSCAddr returns host:port of the OSC target.
func (s Settings) OSCAddr() string {
	return fmt.Sprintf("%s:%d", s.OSCHost, s.OSCPort)
}

// Entry pairs a key with its rule for reporting.
type Entry struct {
	Kind   string `json:"kind"`
	Number int    `json:"number"`
	Rule   Rule   `json:"rule"`
}

// Store is an immutable mapping snapshot.
type Store struct {
	revision string
	hash     string
	source   string
	loadedAt time.Time
	settings Settings
	rules    map[Key]Rule
}

// Revision returns the unique identifier assigned when the store was built.
func (s *Store) Revision() string { return s.revision }

// Hash returns the SHA-256 of the document the store was parsed from.
func (s *Store) Hash() string { return s.hash }

// Source returns where the document came from.
func (s *Store) Source() string { return s.source }

// LoadedAt returns when the store was built.
func (s *Store) LoadedAt() time.Time { return s.loadedAt }

// Settings returns the global settings of the snapshot.
func (s *Store) Settings() Settings { return s.settings }

// Len returns the number of mapped events.
func (s *Store) Len() int { return len(s.rules) }

// Lookup returns the rule bound to (kind, number).
func (s *Store) Lookup(kind EventKind, number int) (Rule, bool) {
	r, ok := s.rules[Key{Kind: kind, Number: number}]
	return r, ok
}

// Defined reports whether an event on the given 0-based channel should be
// dispatched at all.
func (s *Store) Defined(channel int, kind EventKind, number int) bool {
	if channel != s.settings.InputChannel {
		return false
	}
	_, ok := s.rules[Key{Kind: kind, Number: number}]
	return ok
}

// Rules returns a sorted copy of every mapping entry.
func (s *Store) Rules() []Entry {
	out := make([]Entry, 0, len(s.rules))
	for k, r := range s.rules {
		out = append(out, Entry{Kind: k.Kind.String(), Number: k.Number, Rule: r})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Number < out[j].Number
	})
	return out
}
