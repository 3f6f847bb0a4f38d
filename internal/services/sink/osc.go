package sink

import (
	"context"
	"fmt"

	"github.com/hypebeast/go-osc/osc"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

// packetSender is the part of osc.Client the sink uses.
type packetSender interface {
	Send(packet osc.Packet) error
}

// OSCSink sends one float argument per message to a fixed host and port.
type OSCSink struct {
	addr   string
	client packetSender
}

// NewOSCSink creates a UDP OSC client for host:port.
func NewOSCSink(host string, port int) *OSCSink {
	return &OSCSink{
		addr:   fmt.Sprintf("%s:%d", host, port),
		client: osc.NewClient(host, port),
	}
}

// Addr returns the target host:port.
func (s *OSCSink) Addr() string {
	return s.addr
}

// Send implements Sink.
func (s *OSCSink) Send(ctx context.Context, rule mapping.Rule, value float64) error {
	if err := ctx.Err(); err != nil {
		return &Error{Target: mapping.TargetOSC, Address: rule.Address, Err: err}
	}

	msg := osc.NewMessage(rule.Address)
	msg.Append(float32(value))

	if err := s.client.Send(msg); err != nil {
		return &Error{Target: mapping.TargetOSC, Address: rule.Address, Err: err}
	}
	return nil
}
