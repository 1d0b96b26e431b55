package domain

import "context"

// Conn is one live bidirectional transport session.
//
// Send must not block: implementations enqueue and return ErrSlowConsumer
// when the buffer is full or ErrConnClosed once the transport is gone.
// Done is closed when the transport terminates for any reason.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close(reason string) error
	Done() <-chan struct{}
}
