package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomcast/internal/adapter/metrics"
	"github.com/pscheid92/roomcast/internal/domain"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	maxMessageSize    = 4096
	messageBufferSize = 16
)

// Options tunes a Conn. Zero fields fall back to the package defaults.
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = messageBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = maxMessageSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = writeDeadline
	}
	if o.PingInterval <= 0 {
		o.PingInterval = pingInterval
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = pongDeadline
	}
	return o
}

// Conn adapts a gorilla WebSocket to domain.Conn. A single writer goroutine
// owns every network write; Send only enqueues.
type Conn struct {
	id      string
	conn    *ws.Conn
	clock   clockwork.Clock
	opts    Options
	metrics *metrics.WebSocketMetrics

	sendChannel chan []byte
	recvChannel chan []byte
	stopChannel chan struct{}
	doneChannel chan struct{}
	stopOnce    sync.Once

	mu          sync.Mutex
	closeReason string
	readErr     error
}

// New wraps an upgraded connection and starts its reader and writer goroutines. m may be nil.
func New(conn *ws.Conn, clock clockwork.Clock, opts Options, m *metrics.WebSocketMetrics) *Conn {
	opts = opts.withDefaults()
	c := &Conn{
		id:          uuid.NewString(),
		conn:        conn,
		clock:       clock,
		opts:        opts,
		metrics:     m,
		sendChannel: make(chan []byte, opts.SendBuffer),
		recvChannel: make(chan []byte),
		stopChannel: make(chan struct{}),
		doneChannel: make(chan struct{}),
	}
	c.configureReader()
	go c.writeLoop()
	go c.readLoop()
	return c
}

func (c *Conn) ID() string {
	return c.id
}

// Send enqueues msg for the writer. A full buffer evicts the connection.
func (c *Conn) Send(msg []byte) error {
	select {
	case <-c.stopChannel:
		return domain.ErrConnClosed
	default:
	}

	select {
	case c.sendChannel <- msg:
		return nil
	default:
		if c.metrics != nil {
			c.metrics.SlowConsumers.Inc()
		}
		_ = c.Close("slow consumer")
		return domain.ErrSlowConsumer
	}
}

// Receive returns the next text or binary frame from the peer.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg, ok := <-c.recvChannel:
		if !ok {
			return nil, c.readError()
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close asks the writer to send a close frame carrying reason and release the
// socket. It returns immediately; Done reports completion. Repeated calls are no-ops.
func (c *Conn) Close(reason string) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.closeReason = reason
		c.mu.Unlock()
		close(c.stopChannel)
	})
	return nil
}

// Done is closed once the socket has been released.
func (c *Conn) Done() <-chan struct{} {
	return c.doneChannel
}

func (c *Conn) writeLoop() {
	ticker := c.clock.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	defer close(c.doneChannel)
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.sendChannel:
			start := c.clock.Now()
			c.updateWriteDeadline()
			if err := c.conn.WriteMessage(ws.TextMessage, msg); err != nil {
				slog.Debug("WebSocket write failed", "conn_id", c.id, "error", err)
				c.recordDisconnect("write_error")
				_ = c.Close("")
				return
			}
			if c.metrics != nil {
				c.metrics.MessageSendDuration.Observe(c.clock.Since(start).Seconds())
			}
		case <-ticker.Chan():
			c.updateWriteDeadline()
			if err := c.conn.WriteMessage(ws.PingMessage, nil); err != nil {
				if c.metrics != nil {
					c.metrics.PingFailures.Inc()
				}
				c.recordDisconnect("ping_failed")
				_ = c.Close("")
				return
			}
		case <-c.stopChannel:
			c.mu.Lock()
			reason := c.closeReason
			c.mu.Unlock()

			closeMsg := ws.FormatCloseMessage(ws.CloseNormalClosure, reason)
			c.updateWriteDeadline()
			_ = c.conn.WriteMessage(ws.CloseMessage, closeMsg)
			c.recordDisconnect("closed")
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer close(c.recvChannel)

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ws.IsUnexpectedCloseError(err, ws.CloseNormalClosure, ws.CloseGoingAway) {
				slog.Debug("WebSocket closed unexpectedly", "conn_id", c.id, "error", err)
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			_ = c.Close("")
			return
		}
		if msgType != ws.TextMessage && msgType != ws.BinaryMessage {
			continue
		}

		select {
		case c.recvChannel <- data:
		case <-c.doneChannel:
			return
		}
	}
}

func (c *Conn) readError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr == nil {
		return domain.ErrConnClosed
	}
	return fmt.Errorf("%w: %w", domain.ErrConnClosed, c.readErr)
}

func (c *Conn) configureReader() {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.updateReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.updateReadDeadline()
		return nil
	})
}

func (c *Conn) updateWriteDeadline() {
	_ = c.conn.SetWriteDeadline(c.clock.Now().Add(c.opts.WriteTimeout))
}

func (c *Conn) updateReadDeadline() {
	_ = c.conn.SetReadDeadline(c.clock.Now().Add(c.opts.PongTimeout))
}

func (c *Conn) recordDisconnect(cause string) {
	if c.metrics != nil {
		c.metrics.Disconnects.WithLabelValues(cause).Inc()
	}
}
