package notify

import (
	"context"
	"iter"
	"time"

	"github.com/pscheid92/roomcast/internal/domain"
)

// Stream is the consumer side of one subscription. A stream is meant to be
// read by a single goroutine; Close may be called from anywhere.
type Stream struct {
	n         *Notifier
	sub       *subscription
	keepalive time.Duration
}

// User returns the subscribed user.
func (s *Stream) User() domain.UserID {
	return s.sub.user
}

// Done is closed once the stream has been closed or its user unsubscribed.
func (s *Stream) Done() <-chan struct{} {
	return s.sub.done
}

// Next blocks until an event is available, the keepalive interval elapses,
// or the stream ends. A closed stream returns domain.ErrStreamClosed; a
// cancelled ctx returns ctx.Err(). Events still queued when the stream is
// closed are discarded.
//
// Cancelling ctx does not end the stream: the subscription stays registered
// and keeps receiving events until Close or Unsubscribe. Callers that loop
// on Next should defer Close; All does this itself.
func (s *Stream) Next(ctx context.Context) (domain.Event, error) {
	select {
	case <-s.sub.done:
		return domain.Event{}, domain.ErrStreamClosed
	default:
	}

	select {
	case ev := <-s.sub.queue:
		return ev, nil
	default:
	}

	var timeout <-chan time.Time
	if s.keepalive > 0 {
		timer := s.n.clock.NewTimer(s.keepalive)
		defer timer.Stop()
		timeout = timer.Chan()
	}

	select {
	case ev := <-s.sub.queue:
		return ev, nil
	case <-timeout:
		if s.n.metrics != nil {
			s.n.metrics.KeepalivesSent.Inc()
		}
		return domain.Event{Kind: domain.KindKeepalive, CreatedAt: s.n.clock.Now()}, nil
	case <-s.sub.done:
		return domain.Event{}, domain.ErrStreamClosed
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	}
}

// All yields events and keepalive markers until the stream ends or ctx is
// done. Leaving the loop early closes the stream.
func (s *Stream) All(ctx context.Context) iter.Seq[domain.Event] {
	return func(yield func(domain.Event) bool) {
		defer s.Close()
		for {
			ev, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Close unsubscribes this stream only. It is idempotent.
func (s *Stream) Close() {
	s.n.remove(s.sub)
}
