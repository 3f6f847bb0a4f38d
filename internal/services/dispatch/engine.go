// Package dispatch turns decoded MIDI events into sink sends.
//
// The active mapping and the sinks built for it live together in one runtime
// value behind an atomic pointer. Handle loads that pointer exactly once per
// event, so a reload is observed either wholly or not at all.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
	"github.com/bbernstein/lacylights-midi/internal/services/midi"
	"github.com/bbernstein/lacylights-midi/internal/services/pubsub"
	"github.com/bbernstein/lacylights-midi/internal/services/scaling"
	"github.com/bbernstein/lacylights-midi/internal/services/sink"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 256

// SinkFactory builds the network sinks for a mapping's settings.
type SinkFactory func(settings mapping.Settings) (osc sink.Sink, http sink.Sink)

// RevisionRecorder is told about every load attempt.
type RevisionRecorder interface {
	RecordLoad(ctx context.Context, source string, store *mapping.Store, loadErr error) error
}

// Options configures an Engine.
type Options struct {
	QueueSize   int
	HTTPTimeout time.Duration
	Sinks       SinkFactory
	Recorder    RevisionRecorder
	PubSub      *pubsub.PubSub
	Now         func() time.Time
}

// Dispatched is published on pubsub.TopicEventDispatched after a sink accepts a value.
type Dispatched struct {
	Revision string             `json:"revision"`
	Kind     string             `json:"kind"`
	Channel  int                `json:"channel"`
	Number   int                `json:"number"`
	Raw      int                `json:"raw"`
	Target   mapping.TargetKind `json:"target"`
	Address  string             `json:"address"`
	Value    float64            `json:"value"`
	At       time.Time          `json:"at"`
}

// ReloadResult is published on pubsub.TopicConfigReloaded after every reload attempt.
type ReloadResult struct {
	Revision  string    `json:"revision,omitempty"`
	Source    string    `json:"source"`
	Hash      string    `json:"hash,omitempty"`
	RuleCount int       `json:"ruleCount"`
	Accepted  bool      `json:"accepted"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Stats are cumulative counters since the engine was created.
type Stats struct {
	Handled       uint64 `json:"handled"`
	Unhandled     uint64 `json:"unhandled"`
	Dispatched    uint64 `json:"dispatched"`
	Failed        uint64 `json:"failed"`
	Dropped       uint64 `json:"dropped"`
	Throttled     uint64 `json:"throttled"`
	QueueDepth    int    `json:"queueDepth"`
	QueueCapacity int    `json:"queueCapacity"`
}

// runtime is everything a dispatch needs, published as one unit.
type runtime struct {
	store    *mapping.Store
	osc      sink.Sink
	http     sink.Sink
	throttle *throttle
}

type job struct {
	rt    *runtime
	ev    midi.Event
	rule  mapping.Rule
	value float64
	sink  sink.Sink
}

// Engine routes events to sinks and owns the reload protocol.
type Engine struct {
	source   mapping.Source
	newSinks SinkFactory
	recorder RevisionRecorder
	pubsub   *pubsub.PubSub
	now      func() time.Time
	commands *sink.CommandSink

	rt       atomic.Pointer[runtime]
	reloadMu sync.Mutex

	queue      chan job
	intakeMu   sync.RWMutex
	closed     bool
	startOnce  sync.Once
	started    atomic.Bool
	workerDone chan struct{}
	workCtx    context.Context
	cancelWork context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once

	handled    atomic.Uint64
	unhandled  atomic.Uint64
	dispatched atomic.Uint64
	failed     atomic.Uint64
	dropped    atomic.Uint64
	throttled  atomic.Uint64
}

// NewEngine creates an engine reading mappings from source. Nothing is
// loaded until Reload is called.
func NewEngine(source mapping.Source, opts Options) *Engine {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	factory := opts.Sinks
	if factory == nil {
		factory = DefaultSinks(opts.HTTPTimeout)
	}

	workCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		source:     source,
		newSinks:   factory,
		recorder:   opts.Recorder,
		pubsub:     opts.PubSub,
		now:        now,
		queue:      make(chan job, queueSize),
		workerDone: make(chan struct{}),
		workCtx:    workCtx,
		cancelWork: cancel,
		done:       make(chan struct{}),
	}
	e.commands = sink.NewCommandSink(map[string]func(context.Context) error{
		sink.CommandReload: e.Reload,
		sink.CommandQuit: func(context.Context) error {
			e.Quit()
			return nil
		},
	})
	return e
}

// DefaultSinks returns a factory producing UDP OSC and HTTP PATCH sinks.
func DefaultSinks(httpTimeout time.Duration) SinkFactory {
	return func(s mapping.Settings) (sink.Sink, sink.Sink) {
		return sink.NewOSCSink(s.OSCHost, s.OSCPort), sink.NewHTTPSink(s.HTTPHost, httpTimeout)
	}
}

// Resolve applies the channel and mapping filter and returns the rule for ev.
func Resolve(store *mapping.Store, ev midi.Event) (mapping.Rule, bool) {
	if store == nil || !store.Defined(ev.Channel, ev.Kind, ev.Number) {
		return mapping.Rule{}, false
	}
	return store.Lookup(ev.Kind, ev.Number)
}

// Compute maps a raw 0-127 value onto the rule's output range.
// A raw value of zero always yields exactly rule.Min.
func Compute(rule mapping.Rule, raw int) float64 {
	if raw == 0 {
		return rule.Min
	}
	v := float64(raw) / 127.0
	scaled := scaling.Scale(rule.Scaling.Algorithm, v, rule.Scaling.Base)
	return (rule.Max-rule.Min)*scaled + rule.Min
}

// Store returns the active mapping, or nil before the first successful load.
func (e *Engine) Store() *mapping.Store {
	if rt := e.rt.Load(); rt != nil {
		return rt.store
	}
	return nil
}

// Handle processes one input event. It never blocks on network I/O; command
// rules run synchronously in the caller.
func (e *Engine) Handle(ev midi.Event) {
	rt := e.rt.Load()
	if rt == nil {
		e.unhandled.Add(1)
		return
	}
	debug := rt.store.Settings().Debug

	rule, ok := Resolve(rt.store, ev)
	if !ok {
		e.unhandled.Add(1)
		if debug {
			log.Printf("🎹 Unhandled MIDI event: %s", ev)
		}
		return
	}
	e.handled.Add(1)

	if rule.Throttle && !rt.throttle.allow(mapping.Key{Kind: ev.Kind, Number: ev.Number}, ev.Value) {
		e.throttled.Add(1)
		return
	}

	value := Compute(rule, ev.Value)
	if debug {
		log.Printf("🎹 %s -> %s %s = %.4f", ev, rule.Target, rule.Address+rule.Command, value)
	}

	switch rule.Target {
	case mapping.TargetCommand:
		e.runCommand(rule)
	case mapping.TargetOSC:
		e.enqueue(job{rt: rt, ev: ev, rule: rule, value: value, sink: rt.osc})
	case mapping.TargetHTTP:
		e.enqueue(job{rt: rt, ev: ev, rule: rule, value: value, sink: rt.http})
	}
}

func (e *Engine) runCommand(rule mapping.Rule) {
	log.Printf("⚙️  Running command %q", rule.Command)
	err := e.commands.Send(context.Background(), rule, 0)
	switch {
	case err == nil:
	case errors.Is(err, sink.ErrUnknownCommand):
		log.Printf("⚠️  Ignoring %v", err)
	default:
		log.Printf("⚠️  Command %q failed: %v", rule.Command, err)
	}
}

func (e *Engine) enqueue(j job) {
	e.intakeMu.RLock()
	defer e.intakeMu.RUnlock()

	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- j:
	default:
		e.dropped.Add(1)
		log.Printf("⚠️  Dispatch queue full, dropping %s", j.ev)
	}
}

// Start launches the dispatch worker. Calling it more than once is harmless.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.started.Store(true)
		go e.worker()
	})
}

func (e *Engine) worker() {
	defer close(e.workerDone)

	for j := range e.queue {
		if e.workCtx.Err() != nil {
			e.dropped.Add(1)
			continue
		}
		if err := j.sink.Send(e.workCtx, j.rule, j.value); err != nil {
			e.failed.Add(1)
			log.Printf("❌ %v", err)
			continue
		}
		e.dispatched.Add(1)

		if e.pubsub != nil {
			e.pubsub.Publish(pubsub.TopicEventDispatched, j.ev.Kind.String(), Dispatched{
				Revision: j.rt.store.Revision(),
				Kind:     j.ev.Kind.String(),
				Channel:  j.ev.Channel,
				Number:   j.ev.Number,
				Raw:      j.ev.Value,
				Target:   j.rule.Target,
				Address:  j.rule.Address,
				Value:    j.value,
				At:       e.now(),
			})
		}
	}
}

// Stop closes intake and waits for queued sends to finish. When ctx expires
// first, in-flight sends are cancelled and the rest of the queue is dropped.
func (e *Engine) Stop(ctx context.Context) error {
	e.intakeMu.Lock()
	if e.closed {
		e.intakeMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.intakeMu.Unlock()

	defer e.cancelWork()

	if !e.started.Load() {
		e.dropped.Add(uint64(len(e.queue)))
		return nil
	}

	select {
	case <-e.workerDone:
		return nil
	case <-ctx.Done():
		e.cancelWork()
		<-e.workerDone
		log.Printf("⚠️  Shutdown grace period expired, abandoned pending sends")
		return ctx.Err()
	}
}

// Quit requests shutdown. The first call closes Done; later calls do nothing.
func (e *Engine) Quit() {
	e.doneOnce.Do(func() {
		log.Printf("👋 Quit requested")
		close(e.done)
	})
}

// Done is closed once a quit has been requested.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Reload builds a new mapping from the source and publishes it with its
// sinks. On failure the active mapping stays in place and the error is
// returned.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	source := sourceName(e.source)
	store, err := e.source.Load(ctx)
	e.record(ctx, source, store, err)

	if err != nil {
		log.Printf("❌ Mapping reload from %s rejected: %v", source, err)
		e.publishReload(ReloadResult{Source: source, Error: err.Error(), At: e.now()})
		return err
	}

	oscSink, httpSink := e.newSinks(store.Settings())
	e.rt.Store(&runtime{
		store:    store,
		osc:      oscSink,
		http:     httpSink,
		throttle: newThrottle(e.now),
	})

	s := store.Settings()
	log.Printf("🔄 Loaded mapping %s from %s: %d rules, OSC %s, HTTP %s, channel %d",
		store.Revision(), source, store.Len(), s.OSCAddr(), s.HTTPHost, s.InputChannel+1)

	e.publishReload(ReloadResult{
		Revision:  store.Revision(),
		Source:    source,
		Hash:      store.Hash(),
		RuleCount: store.Len(),
		Accepted:  true,
		At:        store.LoadedAt(),
	})
	return nil
}

func (e *Engine) record(ctx context.Context, source string, store *mapping.Store, loadErr error) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordLoad(ctx, source, store, loadErr); err != nil {
		log.Printf("⚠️  Failed to record mapping revision: %v", err)
	}
}

func (e *Engine) publishReload(res ReloadResult) {
	if e.pubsub != nil {
		e.pubsub.PublishAll(pubsub.TopicConfigReloaded, res)
	}
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Handled:       e.handled.Load(),
		Unhandled:     e.unhandled.Load(),
		Dispatched:    e.dispatched.Load(),
		Failed:        e.failed.Load(),
		Dropped:       e.dropped.Load(),
		Throttled:     e.throttled.Load(),
		QueueDepth:    len(e.queue),
		QueueCapacity: cap(e.queue),
	}
}

func sourceName(src mapping.Source) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", src)
}
