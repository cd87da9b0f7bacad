package homeassistant

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const wsTransportName = "websocket"

// WSOptions carries construction parameters for the WebSocket transport.
type WSOptions struct {
	BaseURL          string // hub HTTP base URL; the /api/websocket path is derived
	Token            string
	VerifyTLS        bool
	RequestTimeout   time.Duration
	ReconnectMinWait time.Duration
	ReconnectMaxWait time.Duration
	PendingMaxWait   time.Duration
}

type wsResponse struct {
	msg *wsMessage
	err error
}

// pendingRequest is an in-flight correlated request. The frame is retained
// so the request can be replayed once after a reconnect, as long as it has
// not exceeded the bounded pending wait.
type pendingRequest struct {
	id       int // current correlation id; rewritten on replay (guarded by pendingMu)
	frame    map[string]interface{}
	ch       chan wsResponse
	enqueued time.Time
}

// WSClient maintains the single persistent authenticated hub session.
// Outbound requests carry locally generated correlation ids; responses are
// matched to pending requests by id. On connection loss the client
// reconnects with exponential backoff, re-authenticates, re-subscribes to
// events, then replays requests still within the pending wait bound.
type WSClient struct {
	wsURL  string
	token  string
	opts   WSOptions
	logger *logrus.Logger

	conn         *websocket.Conn
	connected    bool
	reconnecting bool
	connMu       sync.RWMutex
	writeMu      sync.Mutex

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]*pendingRequest
	pendingMu sync.Mutex

	handlers   []EventHandler
	handlersMu sync.RWMutex

	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
}

// NewWSClient creates a new WebSocket transport. Connect must be called
// before Fetch.
func NewWSClient(opts WSOptions, logger *logrus.Logger) *WSClient {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ReconnectMinWait == 0 {
		opts.ReconnectMinWait = time.Second
	}
	if opts.ReconnectMaxWait == 0 {
		opts.ReconnectMaxWait = 30 * time.Second
	}
	if opts.PendingMaxWait == 0 {
		opts.PendingMaxWait = 15 * time.Second
	}

	wsURL := strings.TrimSuffix(opts.BaseURL, "/")
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + strings.TrimPrefix(wsURL, "https")
	} else {
		wsURL = "ws" + strings.TrimPrefix(wsURL, "http")
	}
	wsURL += "/api/websocket"

	ctx, cancel := context.WithCancel(context.Background())
	return &WSClient{
		wsURL:     wsURL,
		token:     opts.Token,
		opts:      opts,
		logger:    logger,
		pending:   make(map[int]*pendingRequest),
		ctx:       ctx,
		cancel:    cancel,
		reconnect: true,
	}
}

func (c *WSClient) Name() string { return wsTransportName }

// Connect establishes and authenticates the session, then starts the
// background receiver. When the hub is unreachable the error is returned
// and the backoff reconnect loop takes over, so the session still comes up
// once the hub does.
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.connected {
		c.connMu.Unlock()
		return nil
	}

	conn, err := c.dialAndAuthenticate(ctx)
	if err != nil {
		c.connMu.Unlock()
		c.startReconnectLoop()
		return err
	}

	c.conn = conn
	c.connected = true
	c.connMu.Unlock()

	go c.receiveLoop(conn)

	if err := c.subscribeToStateChanges(); err != nil {
		c.logger.WithError(err).Warn("Failed to subscribe to hub state changes")
	}

	c.logger.Info("Connected to hub WebSocket API")
	return nil
}

// Close terminates the session permanently.
func (c *WSClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.reconnect = false
	c.cancel()

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false

	c.failPending(newTransportError(wsTransportName, "", KindDisconnected, "client closed", nil))
	return nil
}

// IsConnected reports whether the session is currently authenticated.
func (c *WSClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// OnEvent registers a handler for decoded hub notifications.
func (c *WSClient) OnEvent(handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Fetch executes one hub operation over the session.
func (c *WSClient) Fetch(ctx context.Context, op Operation, params map[string]interface{}) (json.RawMessage, error) {
	if op == OpGetState {
		// The command API has no single-state query; fetch all states and
		// project the requested entity.
		entityID, _ := params["entity_id"].(string)
		raw, err := c.request(ctx, OpGetStates, map[string]interface{}{"type": "get_states"})
		if err != nil {
			return nil, err
		}
		return projectState(raw, entityID, op)
	}

	frame, err := c.commandFrame(op, params)
	if err != nil {
		return nil, err
	}
	return c.request(ctx, op, frame)
}

func (c *WSClient) commandFrame(op Operation, params map[string]interface{}) (map[string]interface{}, error) {
	switch op {
	case OpGetStates, OpGetState:
		return map[string]interface{}{"type": "get_states"}, nil
	case OpGetConfig:
		return map[string]interface{}{"type": "get_config"}, nil
	case OpAreaRegistry:
		return map[string]interface{}{"type": "config/area_registry/list"}, nil
	case OpDeviceRegistry:
		return map[string]interface{}{"type": "config/device_registry/list"}, nil
	case OpEntityRegistry:
		return map[string]interface{}{"type": "config/entity_registry/list"}, nil
	case OpCallService:
		domain, _ := params["domain"].(string)
		service, _ := params["service"].(string)
		if domain == "" || service == "" {
			return nil, newTransportError(wsTransportName, op, KindProtocol, "domain and service parameters are required", nil)
		}
		frame := map[string]interface{}{
			"type":    "call_service",
			"domain":  domain,
			"service": service,
		}
		if data, ok := params["data"].(map[string]interface{}); ok && len(data) > 0 {
			frame["service_data"] = data
		}
		return frame, nil
	default:
		return nil, newTransportError(wsTransportName, op, KindProtocol, "unknown operation", nil)
	}
}

func projectState(raw json.RawMessage, entityID string, op Operation) (json.RawMessage, error) {
	var states []json.RawMessage
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, newTransportError(wsTransportName, op, KindProtocol, "malformed get_states result", err)
	}
	for _, s := range states {
		var probe struct {
			EntityID string `json:"entity_id"`
		}
		if err := json.Unmarshal(s, &probe); err == nil && probe.EntityID == entityID {
			return s, nil
		}
	}
	return nil, &TransportError{
		Kind:      KindHTTPError,
		Transport: wsTransportName,
		Op:        op,
		Status:    404,
		Message:   fmt.Sprintf("entity %s not found", entityID),
	}
}

// request sends a correlated frame and waits for its response.
func (c *WSClient) request(ctx context.Context, op Operation, frame map[string]interface{}) (json.RawMessage, error) {
	c.connMu.RLock()
	connected := c.connected
	conn := c.conn
	c.connMu.RUnlock()

	if !connected || conn == nil {
		return nil, newTransportError(wsTransportName, op, KindDisconnected, "session not connected", nil)
	}

	id := c.nextMsgID()
	frame["id"] = id

	req := &pendingRequest{
		id:       id,
		frame:    frame,
		ch:       make(chan wsResponse, 1),
		enqueued: time.Now(),
	}

	c.pendingMu.Lock()
	c.pending[id] = req
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(conn, frame); err != nil {
		return nil, newTransportError(wsTransportName, op, KindDisconnected, "failed to send request", err)
	}

	timeout := time.NewTimer(c.opts.RequestTimeout)
	defer timeout.Stop()

	select {
	case resp := <-req.ch:
		if resp.err != nil {
			return nil, resp.err
		}
		msg := resp.msg
		if msg.Success != nil && !*msg.Success {
			code, message := "unknown", "request failed"
			if msg.Error != nil {
				code, message = msg.Error.Code, msg.Error.Message
			}
			return nil, newTransportError(wsTransportName, op, KindProtocol, fmt.Sprintf("hub error %s: %s", code, message), nil)
		}
		return msg.Result, nil
	case <-timeout.C:
		return nil, newTransportError(wsTransportName, op, KindTimeout, "timed out waiting for response", context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, newTransportError(wsTransportName, op, KindTimeout, "context done waiting for response", ctx.Err())
	case <-c.ctx.Done():
		return nil, newTransportError(wsTransportName, op, KindDisconnected, "client closed", nil)
	}
}

func (c *WSClient) writeFrame(conn *websocket.Conn, frame interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

func (c *WSClient) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

func (c *WSClient) dialAndAuthenticate(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	if !c.opts.VerifyTLS {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, newTransportError(wsTransportName, "", KindDisconnected, "failed to dial WebSocket", err)
	}

	// Auth handshake: auth_required -> auth -> auth_ok.
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}

	var authRequired wsMessage
	if err := conn.ReadJSON(&authRequired); err != nil {
		conn.Close()
		return nil, newTransportError(wsTransportName, "", KindProtocol, "failed to read auth_required", err)
	}
	if authRequired.Type != "auth_required" {
		conn.Close()
		return nil, newTransportError(wsTransportName, "", KindProtocol, fmt.Sprintf("expected auth_required, got %s", authRequired.Type), nil)
	}

	if err := conn.WriteJSON(map[string]interface{}{
		"type":         "auth",
		"access_token": c.token,
	}); err != nil {
		conn.Close()
		return nil, newTransportError(wsTransportName, "", KindProtocol, "failed to send auth", err)
	}

	var authResult wsMessage
	if err := conn.ReadJSON(&authResult); err != nil {
		conn.Close()
		return nil, newTransportError(wsTransportName, "", KindProtocol, "failed to read auth result", err)
	}
	if authResult.Type != "auth_ok" {
		conn.Close()
		return nil, newTransportError(wsTransportName, "", KindProtocol, fmt.Sprintf("authentication failed: %s", authResult.Type), nil)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

func (c *WSClient) subscribeToStateChanges() error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("session not connected")
	}

	return c.writeFrame(conn, map[string]interface{}{
		"id":         c.nextMsgID(),
		"type":       "subscribe_events",
		"event_type": "state_changed",
	})
}

func (c *WSClient) receiveLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			c.logger.WithError(err).Warn("Hub WebSocket read failed")
			c.handleDisconnect(conn)
			return
		}

		switch msg.Type {
		case "event":
			c.dispatchEvent(&msg)
		case "result":
			if msg.ID > 0 {
				c.pendingMu.Lock()
				if req, ok := c.pending[msg.ID]; ok {
					req.ch <- wsResponse{msg: &msg}
				}
				c.pendingMu.Unlock()
			}
		case "pong":
		default:
			c.logger.WithField("type", msg.Type).Debug("Unhandled WebSocket frame")
		}
	}
}

func (c *WSClient) dispatchEvent(msg *wsMessage) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var event StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &event); err != nil {
		c.logger.WithError(err).Debug("Failed to decode state_changed event")
		return
	}

	c.handlersMu.RLock()
	handlers := append([]EventHandler(nil), c.handlers...)
	c.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

func (c *WSClient) handleDisconnect(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.connected = false
		c.conn = nil
	}
	shouldReconnect := c.reconnect
	c.connMu.Unlock()

	conn.Close()
	c.logger.Warn("Hub WebSocket connection lost")

	if shouldReconnect {
		c.startReconnectLoop()
	} else {
		c.failPending(newTransportError(wsTransportName, "", KindDisconnected, "connection closed", nil))
	}
}

// startReconnectLoop spawns the reconnect loop unless one is already
// running or the client is closed.
func (c *WSClient) startReconnectLoop() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.reconnecting || !c.reconnect {
		return
	}
	c.reconnecting = true
	go c.reconnectLoop()
}

// reconnectLoop re-establishes the session with exponential backoff.
// After a successful reconnect it replays requests still within the
// pending wait bound; older ones fail with a Disconnected error.
func (c *WSClient) reconnectLoop() {
	defer func() {
		c.connMu.Lock()
		c.reconnecting = false
		c.connMu.Unlock()
	}()

	backoff := c.opts.ReconnectMinWait

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.expireStalePending()

		c.logger.WithField("backoff", backoff.String()).Info("Reconnecting to hub WebSocket")

		dialCtx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		conn, err := c.dialAndAuthenticate(dialCtx)
		cancel()
		if err != nil {
			c.logger.WithError(err).Warn("Hub WebSocket reconnect failed")
			backoff *= 2
			if backoff > c.opts.ReconnectMaxWait {
				backoff = c.opts.ReconnectMaxWait
			}
			continue
		}

		c.connMu.Lock()
		c.conn = conn
		c.connected = true
		// Cleared here, not in the defer, so a drop right after this
		// point can start a fresh loop.
		c.reconnecting = false
		c.connMu.Unlock()

		go c.receiveLoop(conn)

		if err := c.subscribeToStateChanges(); err != nil {
			c.logger.WithError(err).Warn("Failed to re-subscribe after reconnect")
		}

		c.replayPending(conn)
		c.logger.Info("Hub WebSocket session re-established")
		return
	}
}

// expireStalePending fails pending requests that have waited past the bound.
func (c *WSClient) expireStalePending() {
	cutoff := time.Now().Add(-c.opts.PendingMaxWait)

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, req := range c.pending {
		if req.enqueued.Before(cutoff) {
			req.ch <- wsResponse{err: newTransportError(wsTransportName, "", KindDisconnected, "request abandoned during reconnect", nil)}
			delete(c.pending, id)
		}
	}
}

// replayPending re-sends surviving requests under fresh correlation ids.
func (c *WSClient) replayPending(conn *websocket.Conn) {
	c.pendingMu.Lock()
	survivors := make(map[int]*pendingRequest, len(c.pending))
	for id, req := range c.pending {
		survivors[id] = req
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	for _, req := range survivors {
		newID := c.nextMsgID()
		req.frame["id"] = newID

		c.pendingMu.Lock()
		req.id = newID
		c.pending[newID] = req
		c.pendingMu.Unlock()

		if err := c.writeFrame(conn, req.frame); err != nil {
			c.pendingMu.Lock()
			delete(c.pending, newID)
			c.pendingMu.Unlock()
			req.ch <- wsResponse{err: newTransportError(wsTransportName, "", KindDisconnected, "replay failed", err)}
		}
	}
}

func (c *WSClient) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, req := range c.pending {
		req.ch <- wsResponse{err: err}
		delete(c.pending, id)
	}
}
