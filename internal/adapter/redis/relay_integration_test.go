package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomcast/internal/app"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/notify"
	"github.com/pscheid92/roomcast/internal/rooms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instance struct {
	relay    *Relay
	rooms    *fakeRoomSink
	notifier *notify.Notifier
}

func startInstance(t *testing.T) *instance {
	t.Helper()
	client := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())

	rooms := &fakeRoomSink{}
	notifier := notify.NewNotifier(clockwork.NewRealClock(), 0, nil)
	relay, err := NewRelay(ctx, client, uuid.NewString(), rooms, notifier, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = relay.Close()
		<-done
		notifier.Stop()
	})
	return &instance{relay: relay, rooms: rooms, notifier: notifier}
}

func TestNewClient_Connects(t *testing.T) {
	client := setupTestClient(t)
	require.NoError(t, client.Ping(context.Background()).Err())
}

func TestRelay_RoomMessagesReachOtherInstances(t *testing.T) {
	a, b := startInstance(t), startInstance(t)
	ctx := context.Background()

	b.rooms.setSize("lobby", 1)
	b.relay.SyncRoom(ctx, "lobby")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, a.relay.PublishRoom(ctx, "lobby", []byte(`{"type":"message","text":"hi"}`), "conn-a"))

	require.Eventually(t, func() bool { return len(b.rooms.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := b.rooms.all()[0]
	assert.Equal(t, domain.RoomID("lobby"), got.room)
	assert.Equal(t, "conn-a", got.exclude)
	assert.JSONEq(t, `{"type":"message","text":"hi"}`, got.msg)
	assert.Empty(t, a.rooms.all(), "instance without local members is not subscribed")
}

func TestRelay_SyncRoomUnsubscribesEmptyRooms(t *testing.T) {
	a, b := startInstance(t), startInstance(t)
	ctx := context.Background()

	b.rooms.setSize("lobby", 1)
	b.relay.SyncRoom(ctx, "lobby")
	b.rooms.setSize("lobby", 0)
	b.relay.SyncRoom(ctx, "lobby")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, a.relay.PublishRoom(ctx, "lobby", []byte(`{}`), ""))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, b.rooms.all())
}

func TestRelay_NotificationsReachOtherInstances(t *testing.T) {
	a, b := startInstance(t), startInstance(t)
	ctx := context.Background()
	stream := b.notifier.Subscribe("u1", 0)

	ev := domain.Event{ID: "e1", Kind: "invite", Data: json.RawMessage(`{"room":"lobby"}`), CreatedAt: time.Now().UTC()}
	require.NoError(t, a.relay.PublishUser(ctx, "u1", ev))

	nextCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	got, err := stream.Next(nextCtx)
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.JSONEq(t, `{"room":"lobby"}`, string(got.Data))

	require.NoError(t, a.relay.PublishAll(ctx, domain.Event{ID: "e2", Kind: "news"}))
	got, err = stream.Next(nextCtx)
	require.NoError(t, err)
	assert.Equal(t, "e2", got.ID)
}

func TestRelay_SkipsMessagesFromSameInstance(t *testing.T) {
	a, b := startInstance(t), startInstance(t)
	ctx := context.Background()

	a.rooms.setSize("lobby", 1)
	a.relay.SyncRoom(ctx, "lobby")
	b.rooms.setSize("lobby", 1)
	b.relay.SyncRoom(ctx, "lobby")
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, a.relay.PublishRoom(ctx, "lobby", []byte(`{}`), ""))

	require.Eventually(t, func() bool { return len(b.rooms.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, a.rooms.all(), "publisher delivers locally, not through its own subscription")
}

// recordingConn counts the chat frames it receives by type.
type recordingConn struct {
	id   string
	done chan struct{}

	mu     sync.Mutex
	frames map[string]int
}

func newRecordingConn() *recordingConn {
	return &recordingConn{id: uuid.NewString(), done: make(chan struct{}), frames: make(map[string]int)}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(msg []byte) error {
	var frame domain.ChatMessage
	if err := json.Unmarshal(msg, &frame); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames[frame.Type]++
	return nil
}

func (c *recordingConn) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *recordingConn) Close(string) error { return nil }

func (c *recordingConn) Done() <-chan struct{} { return c.done }

func (c *recordingConn) count(frameType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[frameType]
}

type chatInstance struct {
	chat    *app.ChatService
	manager *rooms.Manager
}

// startChatInstance wires a real room manager to a relay the way the server
// does, with subscriptions following membership asynchronously.
func startChatInstance(t *testing.T) *chatInstance {
	t.Helper()
	client := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewRealClock()

	var relay *Relay
	follow := func(room domain.RoomID) { go relay.SyncRoom(context.Background(), room) }
	manager := rooms.NewManager(follow, follow, clock, 0, nil)
	notifier := notify.NewNotifier(clock, 0, nil)

	relay, err := NewRelay(ctx, client, uuid.NewString(), manager, notifier, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = relay.Close()
		<-done
		manager.Stop("test done")
		notifier.Stop()
	})
	return &chatInstance{chat: app.NewChatService(manager, relay, clock), manager: manager}
}

func TestRelay_FirstJoinReceivesImmediateBroadcast(t *testing.T) {
	inst := startChatInstance(t)
	ctx := context.Background()

	conns := make([]*recordingConn, 0, 200)
	for i := range 200 {
		conn := newRecordingConn()
		member, err := inst.chat.Join(ctx, conn, domain.RoomID(fmt.Sprintf("fresh-%d", i)), "u1", "Ann")
		require.NoError(t, err)
		require.NoError(t, inst.chat.HandleInbound(ctx, member, []byte(`{"text":"hello"}`)))

		require.Equal(t, 1, conn.count(domain.ChatTypeMessage), "member of fresh room %d missed the broadcast", i)
		conns = append(conns, conn)
	}

	time.Sleep(300 * time.Millisecond)
	for i, conn := range conns {
		assert.Equal(t, 1, conn.count(domain.ChatTypeMessage), "room %d delivered more than once", i)
	}
}

func TestRelay_ChatReachesMembersOnBothInstances(t *testing.T) {
	a, b := startChatInstance(t), startChatInstance(t)
	ctx := context.Background()

	remote := newRecordingConn()
	_, err := b.chat.Join(ctx, remote, "lobby", "u2", "Bob")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	local := newRecordingConn()
	member, err := a.chat.Join(ctx, local, "lobby", "u1", "Ann")
	require.NoError(t, err)
	require.NoError(t, a.chat.HandleInbound(ctx, member, []byte(`{"text":"hi"}`)))

	assert.Equal(t, 1, local.count(domain.ChatTypeMessage))
	require.Eventually(t, func() bool { return remote.count(domain.ChatTypeMessage) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, remote.count(domain.ChatTypeJoin), "remote member sees the join once")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, local.count(domain.ChatTypeMessage))
	assert.Equal(t, 1, remote.count(domain.ChatTypeMessage))
}
