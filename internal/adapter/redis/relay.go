package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pscheid92/roomcast/internal/adapter/metrics"
	"github.com/pscheid92/roomcast/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "roomcast:room:"
	userChannel       = "roomcast:notify:user"
	allChannel        = "roomcast:notify:all"
)

func roomChannel(room domain.RoomID) string {
	return roomChannelPrefix + string(room)
}

// RoomSink delivers relayed room messages to local connections.
type RoomSink interface {
	BroadcastExcept(room domain.RoomID, msg []byte, excludeConnID string) int
	RoomSize(room domain.RoomID) int
}

// NotificationSink delivers relayed events to local subscriptions.
type NotificationSink interface {
	PublishTo(user domain.UserID, ev domain.Event) bool
	Broadcast(ev domain.Event) int
}

// Every envelope carries the id of the publishing instance. The publisher
// has already delivered locally, so an instance skips its own messages.
type roomEnvelope struct {
	Origin        string          `json:"origin,omitempty"`
	Room          domain.RoomID   `json:"room"`
	ExcludeConnID string          `json:"exclude_conn_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type userEnvelope struct {
	Origin string        `json:"origin,omitempty"`
	User   domain.UserID `json:"user"`
	Event  domain.Event  `json:"event"`
}

type allEnvelope struct {
	Origin string       `json:"origin,omitempty"`
	Event  domain.Event `json:"event"`
}

// Relay implements domain.RoomRelay and domain.NotificationRelay on Redis Pub/Sub.
type Relay struct {
	origin  string
	rdb     *goredis.Client
	pubsub  *goredis.PubSub
	rooms   RoomSink
	events  NotificationSink
	metrics *metrics.RelayMetrics

	mu         sync.Mutex
	subscribed map[domain.RoomID]struct{}
}

var (
	_ domain.RoomRelay         = (*Relay)(nil)
	_ domain.NotificationRelay = (*Relay)(nil)
)

// NewRelay subscribes to the notification channels. Room channels follow
// local membership through SyncRoom. origin identifies this instance and
// must be unique across the deployment. m may be nil.
func NewRelay(ctx context.Context, rdb *goredis.Client, origin string, rooms RoomSink, events NotificationSink, m *metrics.RelayMetrics) (*Relay, error) {
	if origin == "" {
		return nil, errors.New("relay origin must not be empty")
	}

	pubsub := rdb.Subscribe(ctx, userChannel, allChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe notification channels: %w", err)
	}

	return &Relay{
		origin:     origin,
		rdb:        rdb,
		pubsub:     pubsub,
		rooms:      rooms,
		events:     events,
		metrics:    m,
		subscribed: make(map[domain.RoomID]struct{}),
	}, nil
}

// Run dispatches incoming messages to the local sinks until ctx is done or
// the relay is closed.
func (r *Relay) Run(ctx context.Context) error {
	ch := r.pubsub.Channel()
	slog.Info("Redis relay started")

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) dispatch(msg *goredis.Message) {
	switch {
	case msg.Channel == userChannel:
		var env userEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			slog.Warn("Dropping malformed relay message", "channel", msg.Channel, "error", err)
			return
		}
		if r.ownMessage(env.Origin) {
			return
		}
		r.received("user")
		r.events.PublishTo(env.User, env.Event)

	case msg.Channel == allChannel:
		var env allEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			slog.Warn("Dropping malformed relay message", "channel", msg.Channel, "error", err)
			return
		}
		if r.ownMessage(env.Origin) {
			return
		}
		r.received("all")
		r.events.Broadcast(env.Event)

	case strings.HasPrefix(msg.Channel, roomChannelPrefix):
		var env roomEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			slog.Warn("Dropping malformed relay message", "channel", msg.Channel, "error", err)
			return
		}
		if r.ownMessage(env.Origin) {
			return
		}
		r.received("room")
		r.rooms.BroadcastExcept(env.Room, env.Payload, env.ExcludeConnID)

	default:
		slog.Debug("Ignoring message on unexpected channel", "channel", msg.Channel)
	}
}

func (r *Relay) ownMessage(origin string) bool {
	return origin != "" && origin == r.origin
}

// SyncRoom subscribes to the room channel while the room has local members
// and unsubscribes once it is empty. It reconciles against the current room
// size, so calls may arrive in any order.
func (r *Relay) SyncRoom(ctx context.Context, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, subscribed := r.subscribed[room]
	wanted := r.rooms.RoomSize(room) > 0

	switch {
	case wanted && !subscribed:
		if err := r.pubsub.Subscribe(ctx, roomChannel(room)); err != nil {
			slog.Error("Failed to subscribe room channel", "room_id", room, "error", err)
			return
		}
		r.subscribed[room] = struct{}{}
		slog.Debug("Subscribed room channel", "room_id", room)
	case !wanted && subscribed:
		if err := r.pubsub.Unsubscribe(ctx, roomChannel(room)); err != nil {
			slog.Error("Failed to unsubscribe room channel", "room_id", room, "error", err)
			return
		}
		delete(r.subscribed, room)
		slog.Debug("Unsubscribed room channel", "room_id", room)
	}
}

// PublishRoom publishes msg to the other instances holding members of room.
// Local members are not reached through the relay.
func (r *Relay) PublishRoom(ctx context.Context, room domain.RoomID, msg []byte, excludeConnID string) error {
	return r.publish(ctx, "room", roomChannel(room), roomEnvelope{Origin: r.origin, Room: room, ExcludeConnID: excludeConnID, Payload: msg})
}

// PublishUser publishes ev to the subscriptions of user on the other instances.
func (r *Relay) PublishUser(ctx context.Context, user domain.UserID, ev domain.Event) error {
	return r.publish(ctx, "user", userChannel, userEnvelope{Origin: r.origin, User: user, Event: ev})
}

// PublishAll publishes ev to every subscription on the other instances.
func (r *Relay) PublishAll(ctx context.Context, ev domain.Event) error {
	return r.publish(ctx, "all", allChannel, allEnvelope{Origin: r.origin, Event: ev})
}

func (r *Relay) publish(ctx context.Context, kind, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}
	if err := r.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", kind, err)
	}
	if r.metrics != nil {
		r.metrics.MessagesPublished.WithLabelValues(kind).Inc()
	}
	return nil
}

func (r *Relay) received(kind string) {
	if r.metrics != nil {
		r.metrics.MessagesReceived.WithLabelValues(kind).Inc()
	}
}

// Close releases the Pub/Sub connection. Run returns afterwards.
func (r *Relay) Close() error {
	return r.pubsub.Close()
}
