package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/bbernstein/lacylights-midi/internal/config"
	"github.com/bbernstein/lacylights-midi/internal/mapping"
	"github.com/bbernstein/lacylights-midi/internal/services/dispatch"
	"github.com/bbernstein/lacylights-midi/internal/services/midi"
	"github.com/bbernstein/lacylights-midi/internal/services/pubsub"
	"github.com/bbernstein/lacylights-midi/internal/services/sink"
)

type fakeController struct {
	mu      sync.Mutex
	reloads int
	err     error
	done    chan struct{}
}

func (f *fakeController) Reload(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return f.err
}

func (f *fakeController) Done() <-chan struct{} { return f.done }

func (f *fakeController) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads
}

func midiCC(ch, number, value int) midi.Event {
	return midi.Event{Channel: ch, Kind: mapping.ControlChange, Number: number, Value: value}
}

func TestWaitForShutdown_Signal(t *testing.T) {
	sigs := make(chan os.Signal, 3)
	c := &fakeController{done: make(chan struct{}), err: errors.New("bad config")}

	sigs <- syscall.SIGHUP
	sigs <- syscall.SIGHUP
	sigs <- syscall.SIGTERM

	reason := waitForShutdown(sigs, c)
	if reason != syscall.SIGTERM.String() {
		t.Errorf("Expected reason %q, got %q", syscall.SIGTERM.String(), reason)
	}
	if c.count() != 2 {
		t.Errorf("Expected 2 reloads, got %d", c.count())
	}
}

func TestWaitForShutdown_QuitCommand(t *testing.T) {
	c := &fakeController{done: make(chan struct{})}
	close(c.done)

	if reason := waitForShutdown(make(chan os.Signal), c); reason != "quit command" {
		t.Errorf("Expected 'quit command', got %q", reason)
	}
	if c.count() != 0 {
		t.Errorf("Expected no reloads, got %d", c.count())
	}
}

func TestWaitForShutdown_QuitViaEngine(t *testing.T) {
	doc := `{"IP":"10.0.0.1","port":8000,"midiDeviceInput":"dev","midiChannelInput":1,
		"control_change":{"1":{"type":"command","command":"quitLoop"}}}`
	engine := dispatch.NewEngine(mapping.StaticSource{Name: "inline", Data: []byte(doc), Format: mapping.FormatJSON},
		dispatch.Options{Sinks: func(mapping.Settings) (sink.Sink, sink.Sink) { return nil, nil }})
	if err := engine.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	result := make(chan string, 1)
	go func() { result <- waitForShutdown(make(chan os.Signal), engine) }()

	engine.Handle(midiCC(0, 1, 127))

	select {
	case reason := <-result:
		if reason != "quit command" {
			t.Errorf("Expected 'quit command', got %q", reason)
		}
	case <-time.After(time.Second):
		t.Fatal("quitLoop did not end the wait")
	}
}

func TestWarnOnDeviceChange_StopsWithContext(t *testing.T) {
	ps := pubsub.New()
	engine := dispatch.NewEngine(mapping.StaticSource{}, dispatch.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		warnOnDeviceChange(ctx, ps, engine, "nanoKONTROL2")
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for ps.SubscriberCount(pubsub.TopicConfigReloaded) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ps.PublishAll(pubsub.TopicConfigReloaded, dispatch.ReloadResult{Accepted: true})
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
	if n := ps.SubscriberCount(pubsub.TopicConfigReloaded); n != 0 {
		t.Errorf("Expected watcher to unsubscribe, got %d subscribers", n)
	}
}

func TestPrintBanner(t *testing.T) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	printBanner(&config.Config{
		Env:                    "production",
		MappingPath:            "/etc/midibridge/oscconfig.json",
		MIDIDevice:             "nanoKONTROL2",
		StatusEnabled:          true,
		Port:                   "4100",
		RevisionHistoryEnabled: true,
		DatabaseURL:            "file:./midibridge.db",
	})

	_ = w.Close()
	os.Stdout = oldStdout
	out, _ := io.ReadAll(r)
	output := string(out)

	for _, want := range []string{
		"LacyLights MIDI Bridge",
		"Environment: production",
		"Mapping:     /etc/midibridge/oscconfig.json",
		"nanoKONTROL2 (override)",
		"Status API:  :4100",
		"History:     file:./midibridge.db",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected banner to contain %q\n%s", want, output)
		}
	}
}
