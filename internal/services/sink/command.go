package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

// Command names understood by the bridge.
const (
	CommandReload = "reloadConfig"
	CommandQuit   = "quitLoop"
)

// CommandSink runs named in-process actions synchronously.
type CommandSink struct {
	actions map[string]func(ctx context.Context) error
}

// NewCommandSink returns a sink with the given actions.
func NewCommandSink(actions map[string]func(ctx context.Context) error) *CommandSink {
	c := &CommandSink{actions: make(map[string]func(ctx context.Context) error, len(actions))}
	for name, fn := range actions {
		c.actions[name] = fn
	}
	return c
}

// Names lists the registered commands.
func (c *CommandSink) Names() []string {
	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send implements Sink. The value is ignored.
func (c *CommandSink) Send(ctx context.Context, rule mapping.Rule, _ float64) error {
	fn, ok := c.actions[rule.Command]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownCommand, rule.Command)
	}
	return fn(ctx)
}
