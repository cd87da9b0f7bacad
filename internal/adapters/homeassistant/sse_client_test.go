package homeassistant

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEDispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "/api/stream", r.URL.Path)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		// Keepalive ping, an unrelated event, then a state change.
		fmt.Fprint(w, "data: ping\n\n")
		fmt.Fprint(w, "data: {\"event_type\": \"service_registered\", \"data\": {}}\n\n")
		fmt.Fprint(w, "data: {\"event_type\": \"state_changed\", \"data\": {\"entity_id\": \"light.kitchen\", \"new_state\": {\"entity_id\": \"light.kitchen\", \"state\": \"off\"}}}\n\n")
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer server.Close()

	events := make(chan StateChangedEvent, 4)
	client := NewSSEClient(SSEOptions{
		BaseURL:       server.URL,
		Token:         "test-token",
		ReconnectWait: 10 * time.Millisecond,
	}, testLogger())
	client.OnEvent(func(event StateChangedEvent) {
		events <- event
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case event := <-events:
		assert.Equal(t, "light.kitchen", event.EntityID)
		require.NotNil(t, event.NewState)
		assert.Equal(t, "off", event.NewState.State)
	case <-time.After(3 * time.Second):
		t.Fatal("state_changed event never delivered")
	}

	// Only the state_changed frame reaches handlers.
	select {
	case extra := <-events:
		t.Fatalf("unexpected extra event: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSSEReconnectsAfterRejection(t *testing.T) {
	var attempts int
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		close(done)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewSSEClient(SSEOptions{
		BaseURL:       server.URL,
		Token:         "test-token",
		ReconnectWait: 5 * time.Millisecond,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream was not retried after rejection")
	}
}

func TestSSEMultilineData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// One logical event split across two data lines.
		fmt.Fprint(w, "data: {\"event_type\": \"state_changed\",\n")
		fmt.Fprint(w, "data: \"data\": {\"entity_id\": \"sensor.pool_temperature\"}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	events := make(chan StateChangedEvent, 1)
	client := NewSSEClient(SSEOptions{
		BaseURL:       server.URL,
		Token:         "test-token",
		ReconnectWait: 10 * time.Millisecond,
	}, testLogger())
	client.OnEvent(func(event StateChangedEvent) {
		events <- event
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case event := <-events:
		assert.Equal(t, "sensor.pool_temperature", event.EntityID)
	case <-time.After(3 * time.Second):
		t.Fatal("multiline event never delivered")
	}
}
