package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/pscheid92/roomcast/internal/notify"
)

// NotifyResult reports what a publish reached. Delivered and Notified
// count local streams only. Relayed is set once the event was handed to
// the other instances.
type NotifyResult struct {
	EventID   string `json:"event_id"`
	Delivered bool   `json:"delivered"`
	Notified  int    `json:"notified"`
	Relayed   bool   `json:"relayed"`
}

// NotificationService publishes events to subscription streams.
type NotificationService struct {
	notifier *notify.Notifier
	relay    domain.NotificationRelay
	clock    clockwork.Clock
	validate *validator.Validate
}

// NewNotificationService creates the notification use cases. relay may be nil.
func NewNotificationService(notifier *notify.Notifier, relay domain.NotificationRelay, clock clockwork.Clock) *NotificationService {
	return &NotificationService{
		notifier: notifier,
		relay:    relay,
		clock:    clock,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Subscribe opens a stream for user.
func (s *NotificationService) Subscribe(user domain.UserID, keepalive time.Duration) *notify.Stream {
	return s.notifier.Subscribe(user, keepalive)
}

// Unsubscribe closes every stream of user on this instance.
func (s *NotificationService) Unsubscribe(user domain.UserID) {
	s.notifier.Unsubscribe(user)
}

// Notify publishes req to every stream of user.
func (s *NotificationService) Notify(ctx context.Context, user domain.UserID, req domain.NotificationRequest) (NotifyResult, error) {
	if user == "" {
		return NotifyResult{}, domain.ErrInvalidIdentity
	}
	ev, err := s.newEvent(req)
	if err != nil {
		return NotifyResult{}, err
	}

	res := NotifyResult{EventID: ev.ID, Delivered: s.notifier.PublishTo(user, ev)}
	if s.relay != nil {
		if err := s.relay.PublishUser(ctx, user, ev); err != nil {
			slog.Warn("Relay publish failed, other instances miss the event", "user_id", user, "event_id", ev.ID, "error", err)
		} else {
			res.Relayed = true
		}
	}
	return res, nil
}

// Broadcast publishes req to every stream.
func (s *NotificationService) Broadcast(ctx context.Context, req domain.NotificationRequest) (NotifyResult, error) {
	ev, err := s.newEvent(req)
	if err != nil {
		return NotifyResult{}, err
	}

	notified := s.notifier.Broadcast(ev)
	res := NotifyResult{EventID: ev.ID, Delivered: notified > 0, Notified: notified}
	if s.relay != nil {
		if err := s.relay.PublishAll(ctx, ev); err != nil {
			slog.Warn("Relay broadcast failed, other instances miss the event", "event_id", ev.ID, "error", err)
		} else {
			res.Relayed = true
		}
	}
	return res, nil
}

func (s *NotificationService) newEvent(req domain.NotificationRequest) (domain.Event, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %w", domain.ErrInvalidMessage, err)
	}
	if req.Kind == domain.KindKeepalive {
		return domain.Event{}, fmt.Errorf("%w: kind %q is reserved", domain.ErrInvalidMessage, req.Kind)
	}
	return domain.Event{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Data:      req.Data,
		CreatedAt: s.clock.Now(),
	}, nil
}
