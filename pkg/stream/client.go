// Package stream provides a resilient WebSocket client for exchange push
// feeds: single-flight connects with a hard dial deadline, automatic
// reconnection, application-level ping/pong, and dispatch of
// zlib-compressed JSON envelopes to per-channel subscribers.
package stream

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"exchange_bridge/internal/core"
	"exchange_bridge/pkg/concurrency"
	"exchange_bridge/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrClosed is returned for operations on a client that has been closed.
	ErrClosed = errors.New("stream client closed")
	// ErrConnectTimeout is returned when a dial does not complete in time.
	ErrConnectTimeout = errors.New("stream connect timeout")
)

// Handler receives the data payload of one envelope on a subscribed channel.
type Handler func(data []byte)

// Envelope is the wire format of every inbound message after decompression.
type Envelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

type subscribePayload struct {
	Symbol     string `json:"symbol"`
	Type       string `json:"type"`
	Resolution string `json:"resolution"`
	CDID       string `json:"_CDID"`
	DataType   string `json:"dataType"`
}

type subscribeRequest struct {
	Action string           `json:"action"`
	Data   subscribePayload `json:"data"`
	MsgID  int64            `json:"msg_id"`
}

// connectAttempt is one dial in flight. Every Connect call made while it is
// running waits on done; err is valid after done is closed.
type connectAttempt struct {
	done    chan struct{}
	err     error
	settled bool // guarded by Client.mu
}

// Client is a resilient WebSocket client.
//
// State transitions are serialized under mu. A dial that outlives its
// deadline is abandoned: if the connection opens afterwards it is closed and
// discarded rather than adopted.
type Client struct {
	url    string
	dialer Dialer
	logger core.ILogger

	connectTimeout time.Duration
	reconnectDelay time.Duration
	pingInterval   time.Duration

	mu               sync.Mutex
	state            ConnState
	conn             Conn
	attempt          *connectAttempt
	reconnectPending bool
	lastActivity     time.Time // last open or inbound frame
	subs             map[string][]Handler
	onConnected      func()
	onDisconnected   func()

	dispatch *concurrency.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient creates a stream client for the given URL. It does not connect;
// the first Connect or Send does.
func NewClient(url string, dialer Dialer, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	meter := telemetry.GetMeter("stream-client")
	msgCounter, _ := meter.Int64Counter("stream_messages_total",
		metric.WithDescription("Total number of stream messages received"))
	connCounter, _ := meter.Int64Counter("stream_connections_total",
		metric.WithDescription("Total number of stream connections initiated"))

	// single worker keeps per-channel delivery in arrival order
	dispatch := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "stream-dispatch",
		MaxWorkers:  1,
		MaxCapacity: 256,
	}, logger)

	return &Client{
		url:            url,
		dialer:         dialer,
		logger:         logger.WithField("component", "stream_client"),
		connectTimeout: 5 * time.Second,
		reconnectDelay: 1 * time.Second,
		pingInterval:   5 * time.Second,
		state:          StateDisconnected,
		subs:           make(map[string][]Handler),
		dispatch:       dispatch,
		ctx:            ctx,
		cancel:         cancel,
		msgCounter:     msgCounter,
		connCounter:    connCounter,
	}
}

// SetTiming overrides the dial deadline, reconnect delay, and ping interval.
func (c *Client) SetTiming(connectTimeout, reconnectDelay, pingInterval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectTimeout = connectTimeout
	c.reconnectDelay = reconnectDelay
	c.pingInterval = pingInterval
}

// OnConnected sets the callback invoked after each successful connect,
// including reconnects. Subscriptions are typically re-issued here.
func (c *Client) OnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// OnDisconnected sets the callback invoked when an established connection is
// lost.
func (c *Client) OnDisconnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = cb
}

// Subscribe registers a handler for one envelope action. Handlers run on the
// dispatch pool in message arrival order.
func (c *Client) Subscribe(action string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[action] = append(c.subs[action], h)
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity returns when the connection last opened or received a frame.
// Zero when no connection has ever been established.
func (c *Client) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Connect ensures a connection exists. If a dial is already in flight the
// call joins it instead of starting a second one; concurrent callers all
// observe the same outcome. Returns nil immediately when already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateClosing:
		c.mu.Unlock()
		return ErrClosed
	case StateConnecting:
		att := c.attempt
		c.mu.Unlock()
		return c.await(ctx, att)
	}

	att := &connectAttempt{done: make(chan struct{})}
	c.attempt = att
	c.state = StateConnecting
	c.wg.Add(1)
	go c.dial(att)
	c.mu.Unlock()

	return c.await(ctx, att)
}

func (c *Client) await(ctx context.Context, att *connectAttempt) error {
	select {
	case <-att.done:
		return att.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) dial(att *connectAttempt) {
	defer c.wg.Done()
	c.connCounter.Add(c.ctx, 1)

	c.mu.Lock()
	timeout := c.connectTimeout
	c.mu.Unlock()

	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		if att.settled {
			c.mu.Unlock()
			return
		}
		att.settled = true
		att.err = ErrConnectTimeout
		c.failAttemptLocked(att)
		c.mu.Unlock()
		close(att.done)
		c.logger.Warn("connect attempt timed out", "url", c.url)
	})

	conn, err := c.dialer.Dial(c.ctx, c.url)
	timer.Stop()

	c.mu.Lock()
	if att.settled {
		// The attempt was abandoned by the deadline. A connection that
		// opened late is discarded, never adopted.
		c.mu.Unlock()
		if err == nil {
			conn.Close()
			c.logger.Warn("discarding connection opened after timeout", "url", c.url)
		}
		return
	}
	att.settled = true

	if c.state == StateClosing {
		att.err = ErrClosed
		c.attempt = nil
		c.mu.Unlock()
		if err == nil {
			conn.Close()
		}
		close(att.done)
		return
	}

	if err != nil {
		att.err = err
		c.failAttemptLocked(att)
		c.mu.Unlock()
		close(att.done)
		c.logger.Error("connect failed", "url", c.url, "error", err.Error())
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempt = nil
	c.lastActivity = time.Now()
	onConnected := c.onConnected
	interval := c.pingInterval
	c.wg.Add(2)
	go c.readLoop(conn)
	go c.keepAlive(conn, interval)
	c.mu.Unlock()
	close(att.done)

	c.logger.Info("stream connected", "url", c.url)

	// the server expects a heartbeat right away, not only on the ticker
	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		c.handleConnError(conn, err)
		return
	}
	if onConnected != nil {
		onConnected()
	}
}

// failAttemptLocked transitions back to disconnected and arms the reconnect
// timer. Caller holds mu and closes att.done after unlocking.
func (c *Client) failAttemptLocked(att *connectAttempt) {
	if c.attempt == att {
		c.attempt = nil
	}
	if c.state == StateConnecting {
		c.state = StateDisconnected
	}
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms a single pending reconnect with a fixed
// delay. Redundant triggers while one is pending are no-ops.
func (c *Client) scheduleReconnectLocked() {
	if c.reconnectPending || c.state == StateClosing {
		return
	}
	c.reconnectPending = true
	delay := c.reconnectDelay
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-c.ctx.Done():
			c.mu.Lock()
			c.reconnectPending = false
			c.mu.Unlock()
			return
		case <-time.After(delay):
		}
		c.mu.Lock()
		c.reconnectPending = false
		c.mu.Unlock()
		if err := c.Connect(c.ctx); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("reconnect failed", "url", c.url, "error", err.Error())
		}
	}()
}

func (c *Client) readLoop(conn Conn) {
	defer c.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnError(conn, err)
			return
		}
		c.handleMessage(data)
	}
}

// keepAlive sends the server's expected application-level "ping" text frame
// on a fixed interval. The exchange does not speak WebSocket control pings.
// The interval is snapshotted by the caller under mu.
func (c *Client) keepAlive(conn Conn, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if !current {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				c.handleConnError(conn, err)
				return
			}
		}
	}
}

// handleConnError tears down a failed connection and arms a reconnect.
// Errors from a connection that has already been replaced are ignored, so a
// burst of failures produces exactly one reconnect.
func (c *Client) handleConnError(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	onDisconnected := c.onDisconnected
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("stream connection lost", "url", c.url, "error", err.Error())
	if onDisconnected != nil {
		onDisconnected()
	}
}

func (c *Client) handleMessage(data []byte) {
	c.msgCounter.Add(c.ctx, 1)

	c.mu.Lock()
	open := c.state == StateOpen
	if open {
		c.lastActivity = time.Now()
	}
	c.mu.Unlock()
	if !open {
		return
	}

	// heartbeat replies arrive as plain text, outside the envelope
	if bytes.Equal(data, []byte("pong")) {
		return
	}

	payload, err := inflate(data)
	if err != nil {
		c.logger.Debug("dropping undecodable frame", "error", err.Error())
		return
	}
	if bytes.Equal(payload, []byte("pong")) {
		return
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		c.logger.Debug("dropping unparseable frame", "error", err.Error())
		return
	}

	c.mu.Lock()
	handlers := append([]Handler(nil), c.subs[env.Action]...)
	c.mu.Unlock()
	if len(handlers) == 0 {
		c.logger.Debug("no subscriber for action", "action", env.Action)
		return
	}

	data = env.Data
	c.dispatch.Submit(func() {
		for _, h := range handlers {
			h(data)
		}
	})
}

// inflate decompresses a zlib frame, falling back to raw deflate and then to
// the bytes as-is for servers that send uncompressed text.
func inflate(data []byte) ([]byte, error) {
	if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		defer r.Close()
		return io.ReadAll(r)
	}
	r := flate.NewReader(bytes.NewReader(data))
	if out, err := io.ReadAll(r); err == nil {
		r.Close()
		return out, nil
	}
	return data, nil
}

// Send marshals and writes one message, connecting first if needed. Byte
// slices and strings are written as-is; anything else is JSON-encoded.
func (c *Client) Send(ctx context.Context, msg interface{}) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	var payload []byte
	switch m := msg.(type) {
	case []byte:
		payload = m
	case string:
		payload = []byte(m)
	default:
		var err error
		payload, err = json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.handleConnError(conn, err)
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// SubscribeOrders issues the subscription request for the pair's private
// order channel.
func (c *Client) SubscribeOrders(ctx context.Context, wsPair string) error {
	req := subscribeRequest{
		Action: "Topic.sub",
		Data: subscribePayload{
			Symbol:     wsPair,
			Type:       "order",
			Resolution: "60min",
			CDID:       "100002",
			DataType:   "1",
		},
		MsgID: time.Now().UnixMilli(),
	}
	return c.Send(ctx, req)
}

// Close shuts the client down. It stops reconnecting, closes any live
// connection, and drains the dispatch pool. The client cannot be reused.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("stream close: goroutines did not exit within timeout")
	}

	c.dispatch.Stop()
}
