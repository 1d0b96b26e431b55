package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/rooms"
)

// ChatService runs chat rooms on top of the connection manager.
type ChatService struct {
	rooms    *rooms.Manager
	relay    domain.RoomRelay
	clock    clockwork.Clock
	validate *validator.Validate
}

// NewChatService creates the chat use cases. relay may be nil, in which case
// messages are delivered to local members only.
func NewChatService(manager *rooms.Manager, relay domain.RoomRelay, clock clockwork.Clock) *ChatService {
	return &ChatService{
		rooms:    manager,
		relay:    relay,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Join registers conn in roomID, sends it the current member list and
// announces the arrival to everyone else in the room.
func (s *ChatService) Join(ctx context.Context, conn domain.Conn, roomID domain.RoomID, userID domain.UserID, displayName string) (domain.Member, error) {
	if err := s.rooms.Connect(conn, roomID, userID, displayName); err != nil {
		return domain.Member{}, fmt.Errorf("join room %s: %w", roomID, err)
	}

	snapshot := domain.ChatMessage{
		Type:    domain.ChatTypeMembers,
		RoomID:  roomID,
		Members: s.rooms.Members(roomID),
		SentAt:  s.clock.Now(),
	}
	if payload, err := json.Marshal(snapshot); err != nil {
		slog.Error("Failed to encode member snapshot", "room_id", roomID, "error", err)
	} else {
		s.rooms.SendTo(conn, payload)
	}

	member, ok := s.rooms.Member(conn.ID())
	if !ok {
		// Already disconnected by a concurrent Leave or Stop.
		member = domain.Member{ConnID: conn.ID(), RoomID: roomID, UserID: userID, DisplayName: displayName, JoinedAt: s.clock.Now()}
	}
	s.publish(ctx, roomID, domain.ChatMessage{
		Type:        domain.ChatTypeJoin,
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		SentAt:      s.clock.Now(),
	}, conn.ID())

	slog.Info("User joined room", "room_id", roomID, "user_id", userID, "conn_id", conn.ID())
	return member, nil
}

// Leave removes conn from its room and announces the departure.
// It is a no-op for connections that are not registered.
func (s *ChatService) Leave(ctx context.Context, conn domain.Conn) {
	member, ok := s.rooms.Disconnect(conn)
	if !ok {
		return
	}

	s.publish(ctx, member.RoomID, domain.ChatMessage{
		Type:        domain.ChatTypeLeave,
		RoomID:      member.RoomID,
		UserID:      member.UserID,
		DisplayName: member.DisplayName,
		SentAt:      s.clock.Now(),
	}, "")

	slog.Info("User left room", "room_id", member.RoomID, "user_id", member.UserID, "conn_id", member.ConnID)
}

// HandleInbound validates one client frame and fans it out to the sender's room.
// Malformed frames return an error wrapping domain.ErrInvalidMessage.
func (s *ChatService) HandleInbound(ctx context.Context, member domain.Member, raw []byte) error {
	var in domain.InboundChat
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidMessage, err)
	}
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidMessage, err)
	}

	s.publish(ctx, member.RoomID, domain.ChatMessage{
		Type:        domain.ChatTypeMessage,
		RoomID:      member.RoomID,
		UserID:      member.UserID,
		DisplayName: member.DisplayName,
		Text:        in.Text,
		SentAt:      s.clock.Now(),
	}, "")
	return nil
}

// Serve joins conn to roomID and pumps its inbound frames until the
// connection ends or ctx is cancelled. The connection always leaves the room
// before Serve returns.
func (s *ChatService) Serve(ctx context.Context, conn domain.Conn, roomID domain.RoomID, userID domain.UserID, displayName string) error {
	member, err := s.Join(ctx, conn, roomID, userID, displayName)
	if err != nil {
		return err
	}
	defer s.Leave(context.WithoutCancel(ctx), conn)

	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrConnClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}

		if err := s.HandleInbound(ctx, member, raw); err != nil {
			slog.Debug("Rejected inbound frame", "conn_id", member.ConnID, "error", err)
			s.sendError(conn, err)
		}
	}
}

// Members returns the local members of roomID.
func (s *ChatService) Members(roomID domain.RoomID) []domain.Member {
	return s.rooms.Members(roomID)
}

func (s *ChatService) sendError(conn domain.Conn, cause error) {
	payload, err := json.Marshal(domain.ChatMessage{
		Type:   domain.ChatTypeError,
		Text:   cause.Error(),
		SentAt: s.clock.Now(),
	})
	if err != nil {
		return
	}
	s.rooms.SendTo(conn, payload)
}

// publish delivers msg to local members and, when a relay is configured,
// to members on other instances. A relay failure only affects remote members.
func (s *ChatService) publish(ctx context.Context, roomID domain.RoomID, msg domain.ChatMessage, excludeConnID string) {
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to encode chat message", "room_id", roomID, "error", err)
		return
	}

	s.rooms.BroadcastExcept(roomID, payload, excludeConnID)

	if s.relay != nil {
		if err := s.relay.PublishRoom(ctx, roomID, payload, excludeConnID); err != nil {
			slog.Warn("Relay publish failed, remote members miss the message", "room_id", roomID, "error", err)
		}
	}
}
