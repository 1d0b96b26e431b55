package domain

import "context"

// RoomRelay carries room broadcasts between instances.
// Deliveries come back through the local connection manager on every instance.
type RoomRelay interface {
	PublishRoom(ctx context.Context, room RoomID, msg []byte, excludeConnID string) error
}

// NotificationRelay carries notifications between instances.
type NotificationRelay interface {
	PublishUser(ctx context.Context, user UserID, event Event) error
	PublishAll(ctx context.Context, event Event) error
}
