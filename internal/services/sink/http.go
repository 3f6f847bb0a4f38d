package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bbernstein/lacylights-midi/internal/mapping"
)

// DefaultHTTPTimeout bounds a single PATCH when no timeout is configured.
const DefaultHTTPTimeout = 2 * time.Second

// HTTPSink PATCHes {attribute: value} to host+address.
type HTTPSink struct {
	host    string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPSink creates a sink for host, e.g. "http://192.168.1.20".
func NewHTTPSink(host string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPSink{
		host:    host,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Host returns the base URL requests are sent to.
func (s *HTTPSink) Host() string {
	return s.host
}

// Send implements Sink.
func (s *HTTPSink) Send(ctx context.Context, rule mapping.Rule, value float64) error {
	attribute := rule.Attribute
	if attribute == "" {
		attribute = mapping.DefaultAttribute
	}

	body, err := json.Marshal(map[string]float64{attribute: value})
	if err != nil {
		return &Error{Target: mapping.TargetHTTP, Address: rule.Address, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := s.host + rule.Address
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Target: mapping.TargetHTTP, Address: rule.Address, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &Error{Target: mapping.TargetHTTP, Address: rule.Address, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Target:  mapping.TargetHTTP,
			Address: rule.Address,
			Status:  resp.StatusCode,
			Err:     fmt.Errorf("PATCH %s: %s", url, resp.Status),
		}
	}
	return nil
}
