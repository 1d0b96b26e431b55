package domain

import (
	"encoding/json"
	"time"
)

// KindKeepalive marks the synthetic event a stream yields when no real
// event arrived within the keepalive interval.
const KindKeepalive = "keepalive"

// Event is an immutable tagged payload pushed to subscribers.
type Event struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsKeepalive reports whether the event is a keepalive marker rather than data.
func (e Event) IsKeepalive() bool {
	return e.Kind == KindKeepalive
}

// NotificationRequest is the body accepted by the notification endpoints.
type NotificationRequest struct {
	Kind string          `json:"kind" validate:"required,max=64"`
	Data json.RawMessage `json:"data"`
}
