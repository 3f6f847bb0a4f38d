// Package midi adapts a gomidi input port into mapping events.
package midi

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

// Event is a decoded channel-voice message.
type Event struct {
	Channel int               `json:"channel"` // 0-based, -1 for system messages
	Kind    mapping.EventKind `json:"kind"`
	Number  int               `json:"number"`
	Value   int               `json:"value"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s ch=%d num=%d val=%d", e.Kind, e.Channel+1, e.Number, e.Value)
}

// Decode converts raw MIDI bytes into an Event. Messages the bridge does not
// map come back as KindOther with Number and Value set to -1.
func Decode(msg gomidi.Message) Event {
	ev := Event{Channel: -1, Kind: mapping.KindOther, Number: -1, Value: -1}
	if len(msg) == 0 {
		return ev
	}

	status := msg[0]
	if status < 0x80 || status >= 0xF0 {
		return ev
	}
	ev.Channel = int(status & 0x0F)

	if len(msg) < 3 {
		return ev
	}

	switch status >> 4 {
	case 0xB:
		ev.Kind = mapping.ControlChange
	case 0x9:
		ev.Kind = mapping.NoteOn
	case 0x8:
		ev.Kind = mapping.NoteOff
	default:
		return ev
	}
	ev.Number = int(msg[1] & 0x7F)
	ev.Value = int(msg[2] & 0x7F)
	return ev
}

// TransportError reports a missing input device.
type TransportError struct {
	Device    string
	Available []string
	Err       error
}

// ErrDeviceNotFound is matched by every TransportError raised for a lookup miss.
var ErrDeviceNotFound = errors.New("MIDI input device not found")

func (e *TransportError) Error() string {
	avail := "none"
	if len(e.Available) > 0 {
		avail = strings.Join(e.Available, ", ")
	}
	if e.Err != nil && !errors.Is(e.Err, ErrDeviceNotFound) {
		return fmt.Sprintf("MIDI input %q: %v. Available devices: %s", e.Device, e.Err, avail)
	}
	return fmt.Sprintf("MIDI input %q not found. Available devices: %s", e.Device, avail)
}

func (e *TransportError) Unwrap() error {
	if e.Err == nil {
		return ErrDeviceNotFound
	}
	return e.Err
}

// inPorts is swapped out in tests.
var inPorts = func() []drivers.In {
	return gomidi.GetInPorts()
}

// ListInputs returns the names of every input port the driver can see.
func ListInputs() []string {
	ports := inPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	return names
}

// MatchInput picks name out of available: an exact match wins, otherwise the
// first case-insensitive substring match. It returns -1 when nothing fits.
func MatchInput(available []string, name string) int {
	for i, n := range available {
		if n == name {
			return i
		}
	}
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return -1
	}
	for i, n := range available {
		if strings.Contains(strings.ToLower(n), want) {
			return i
		}
	}
	return -1
}

// FindInput resolves a device name to a driver port.
func FindInput(name string) (drivers.In, error) {
	ports := inPorts()
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.String()
	}
	idx := MatchInput(names, name)
	if idx < 0 {
		return nil, &TransportError{Device: name, Available: names}
	}
	return ports[idx], nil
}

// Input is an open listener on one MIDI port.
type Input struct {
	name    string
	handler func(Event)

	stop   func()
	closed atomic.Bool
}

// Open finds the named port and starts delivering decoded events to handler.
// Events arrive one at a time in the order the driver reports them.
func Open(name string, handler func(Event)) (*Input, error) {
	port, err := FindInput(name)
	if err != nil {
		return nil, err
	}

	in := &Input{name: port.String(), handler: handler}
	stop, err := gomidi.ListenTo(port, in.receive)
	if err != nil {
		return nil, &TransportError{
			Device:    name,
			Available: ListInputs(),
			Err:       fmt.Errorf("listen: %w", err),
		}
	}
	in.stop = stop

	log.Printf("🎹 Listening on MIDI input %q", in.name)
	return in, nil
}

// Name returns the resolved port name.
func (in *Input) Name() string {
	return in.name
}

func (in *Input) receive(msg gomidi.Message, _ int32) {
	if in.closed.Load() {
		return
	}
	in.handler(Decode(msg))
}

// Close stops the listener. It is safe to call more than once.
func (in *Input) Close() {
	if !in.closed.CompareAndSwap(false, true) {
		return
	}
	if in.stop != nil {
		in.stop()
	}
	log.Printf("🔌 Closed MIDI input %q", in.name)
}
