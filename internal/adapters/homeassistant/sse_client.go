package homeassistant

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SSEOptions carries construction parameters for the event stream subscriber.
type SSEOptions struct {
	BaseURL       string
	Path          string // hub event stream path, e.g. /api/stream
	Token         string
	VerifyTLS     bool
	ReconnectWait time.Duration
}

// SSEClient consumes the hub's server-sent event stream. It is strictly
// best-effort: decoded notifications feed cache refresh hints, and any
// failure is logged and followed by a reconnect, never surfaced to queries.
type SSEClient struct {
	url        string
	token      string
	wait       time.Duration
	httpClient *http.Client
	logger     *logrus.Logger

	handlers   []EventHandler
	handlersMu sync.RWMutex
}

// NewSSEClient creates a new event stream subscriber. Run starts it.
func NewSSEClient(opts SSEOptions, logger *logrus.Logger) *SSEClient {
	if opts.Path == "" {
		opts.Path = "/api/stream"
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &SSEClient{
		url:   strings.TrimSuffix(opts.BaseURL, "/") + opts.Path,
		token: opts.Token,
		wait:  opts.ReconnectWait,
		// No client timeout: the stream is long-lived by design.
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// OnEvent registers a handler for decoded notifications.
func (c *SSEClient) OnEvent(handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Run consumes the stream until ctx is cancelled, reconnecting after errors.
func (c *SSEClient) Run(ctx context.Context) {
	for {
		if err := c.consume(ctx); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Warn("Hub event stream interrupted")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.wait):
		}
	}
}

func (c *SSEClient) consume(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{
			Kind:      KindHTTPError,
			Transport: "sse",
			Status:    resp.StatusCode,
			Message:   "event stream request rejected",
		}
	}

	c.logger.Debug("Hub event stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		// Blank line terminates one event frame.
		if line == "" {
			if data.Len() > 0 {
				c.dispatch(data.String())
				data.Reset()
			}
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(payload, " "))
		}
	}
	return scanner.Err()
}

func (c *SSEClient) dispatch(payload string) {
	// The hub interleaves keepalive pings with event frames.
	if payload == "ping" {
		return
	}

	var frame struct {
		EventType string          `json:"event_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		c.logger.WithError(err).Debug("Undecodable event stream frame")
		return
	}
	if frame.EventType != "state_changed" {
		return
	}

	var event StateChangedEvent
	if err := json.Unmarshal(frame.Data, &event); err != nil {
		c.logger.WithError(err).Debug("Undecodable state_changed payload")
		return
	}

	c.handlersMu.RLock()
	handlers := append([]EventHandler(nil), c.handlers...)
	c.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
