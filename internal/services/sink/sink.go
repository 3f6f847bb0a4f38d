// Package sink delivers computed values to their output targets.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

// Sink sends a single value for a rule.
type Sink interface {
	Send(ctx context.Context, rule mapping.Rule, value float64) error
}

// Error is returned for any failed delivery. Sink errors are never fatal to
// the bridge; the event is dropped.
type Error struct {
	Target  mapping.TargetKind
	Address string
	Status  int // HTTP status, zero otherwise
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s sink %s: unexpected status %d", e.Target, e.Address, e.Status)
	}
	return fmt.Sprintf("%s sink %s: %v", e.Target, e.Address, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrUnknownCommand is returned by CommandSink for names it has no action for.
var ErrUnknownCommand = errors.New("unknown command")
