package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

type capture struct {
	packets []osc.Packet
	err     error
}

func (c *capture) Send(p osc.Packet) error {
	if c.err != nil {
		return c.err
	}
	c.packets = append(c.packets, p)
	return nil
}

func TestOSCSinkSendsSingleFloat(t *testing.T) {
	c := &capture{}
	s := &OSCSink{addr: "127.0.0.1:8000", client: c}

	err := s.Send(context.Background(), mapping.Rule{Target: mapping.TargetOSC, Address: "/fader1"}, 12)
	require.NoError(t, err)
	require.Len(t, c.packets, 1)

	msg, ok := c.packets[0].(*osc.Message)
	require.True(t, ok)
	assert.Equal(t, "/fader1", msg.Address)
	require.Len(t, msg.Arguments, 1)
	assert.Equal(t, float32(12), msg.Arguments[0])
}

func TestOSCSinkWrapsFailure(t *testing.T) {
	cause := errors.New("connection refused")
	s := &OSCSink{client: &capture{err: cause}}

	err := s.Send(context.Background(), mapping.Rule{Address: "/x"}, 1)
	require.Error(t, err)

	var sinkErr *Error
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, mapping.TargetOSC, sinkErr.Target)
	assert.ErrorIs(t, err, cause)
}

func TestOSCSinkCancelledContext(t *testing.T) {
	c := &capture{}
	s := &OSCSink{client: c}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, mapping.Rule{Address: "/x"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.packets)
}

func TestNewOSCSink(t *testing.T) {
	s := NewOSCSink("127.0.0.1", 9000)
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
}

func TestHTTPSinkPatch(t *testing.T) {
	var (
		method string
		path   string
		ctype  string
		body   map[string]float64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		ctype = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, time.Second)
	assert.Equal(t, srv.URL, s.Host())

	want := math.Log(1+19*64.0/127) / math.Log(20) * 100
	err := s.Send(context.Background(), mapping.Rule{Target: mapping.TargetHTTP, Address: "/api/gain"}, want)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "/api/gain", path)
	assert.Equal(t, "application/json", ctype)
	require.Contains(t, body, "value")
	assert.InDelta(t, want, body["value"], 1e-9)
}

func TestHTTPSinkAttribute(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	s := NewHTTPSink(srv.URL, 0)
	err := s.Send(context.Background(), mapping.Rule{Address: "/api/cue", Attribute: "level"}, 128)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"level": 128.0}, body)
}

func TestHTTPSinkNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, time.Second).Send(context.Background(), mapping.Rule{Address: "/a"}, 1)
	require.Error(t, err)

	var sinkErr *Error
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, http.StatusBadGateway, sinkErr.Status)
	assert.Equal(t, mapping.TargetHTTP, sinkErr.Target)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPSinkTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := NewHTTPSink(srv.URL, 20*time.Millisecond).Send(context.Background(), mapping.Rule{Address: "/slow"}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPSinkUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewHTTPSink(url, time.Second).Send(context.Background(), mapping.Rule{Address: "/a"}, 1)
	var sinkErr *Error
	require.ErrorAs(t, err, &sinkErr)
	assert.Zero(t, sinkErr.Status)
}

func TestCommandSink(t *testing.T) {
	calls := 0
	c := NewCommandSink(map[string]func(context.Context) error{
		CommandReload: func(context.Context) error { calls++; return nil },
		CommandQuit:   func(context.Context) error { return errors.New("bye") },
	})

	assert.Equal(t, []string{CommandQuit, CommandReload}, c.Names())

	require.NoError(t, c.Send(context.Background(), mapping.Rule{Command: CommandReload}, 0))
	assert.Equal(t, 1, calls)

	assert.EqualError(t, c.Send(context.Background(), mapping.Rule{Command: CommandQuit}, 0), "bye")

	err := c.Send(context.Background(), mapping.Rule{Command: "launchRockets"}, 0)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "launchRockets")
}
