package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/roomcast/internal/domain"
)

// --- Mock implementations ---

type mockRoomRelay struct {
	publishRoomFn func(ctx context.Context, room domain.RoomID, msg []byte, excludeConnID string) error
}

func (m *mockRoomRelay) PublishRoom(ctx context.Context, room domain.RoomID, msg []byte, excludeConnID string) error {
	if m.publishRoomFn != nil {
		return m.publishRoomFn(ctx, room, msg, excludeConnID)
	}
	return nil
}

type mockNotificationRelay struct {
	publishUserFn func(ctx context.Context, user domain.UserID, event domain.Event) error
	publishAllFn  func(ctx context.Context, event domain.Event) error
}

func (m *mockNotificationRelay) PublishUser(ctx context.Context, user domain.UserID, event domain.Event) error {
	if m.publishUserFn != nil {
		return m.publishUserFn(ctx, user, event)
	}
	return nil
}

func (m *mockNotificationRelay) PublishAll(ctx context.Context, event domain.Event) error {
	if m.publishAllFn != nil {
		return m.publishAllFn(ctx, event)
	}
	return nil
}

// mockConn is a domain.Conn fed by an inbound channel.
type mockConn struct {
	id      string
	inbound chan []byte

	mu   sync.Mutex
	sent [][]byte

	done      chan struct{}
	closeOnce sync.Once
}

func newMockConn() *mockConn {
	return &mockConn{
		id:      uuid.NewString(),
		inbound: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
}

func (c *mockConn) ID() string { return c.id }

func (c *mockConn) Send(msg []byte) error {
	select {
	case <-c.done:
		return domain.ErrConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *mockConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.done:
		return nil, domain.ErrConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *mockConn) Close(string) error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *mockConn) Done() <-chan struct{} { return c.done }

func (c *mockConn) frames() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, 0, len(c.sent))
	for _, raw := range c.sent {
		var msg domain.ChatMessage
		if err := json.Unmarshal(raw, &msg); err == nil {
			out = append(out, msg)
		}
	}
	return out
}

func (c *mockConn) frameTypes() []string {
	frames := c.frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}
