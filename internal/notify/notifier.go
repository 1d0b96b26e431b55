package notify

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomcast/internal/adapter/metrics"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/samber/lo"
)

// DefaultBufferSize is the per-subscription queue capacity used when none is configured.
const DefaultBufferSize = 64

type subscription struct {
	id        uint64
	user      domain.UserID
	queue     chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// offer enqueues ev without blocking and reports whether it fit.
func (s *subscription) offer(ev domain.Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.queue <- ev:
		return true
	default:
		return false
	}
}

// Notifier is the registry of live subscriptions, keyed by user.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[domain.UserID]map[uint64]*subscription
	count   int
	nextID  uint64
	stopped bool

	clock      clockwork.Clock
	bufferSize int
	metrics    *metrics.NotifyMetrics
}

// NewNotifier creates an empty notifier. bufferSize <= 0 selects DefaultBufferSize. m may be nil.
func NewNotifier(clock clockwork.Clock, bufferSize int, m *metrics.NotifyMetrics) *Notifier {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Notifier{
		subs:       make(map[domain.UserID]map[uint64]*subscription),
		clock:      clock,
		bufferSize: bufferSize,
		metrics:    m,
	}
}

// Subscribe registers a new subscription for user and returns its stream.
// keepalive <= 0 disables keepalive markers. After Stop the returned stream
// is already closed.
func (n *Notifier) Subscribe(user domain.UserID, keepalive time.Duration) *Stream {
	sub := &subscription{
		user:  user,
		queue: make(chan domain.Event, n.bufferSize),
		done:  make(chan struct{}),
	}

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		sub.close()
		return &Stream{n: n, sub: sub, keepalive: keepalive}
	}
	n.nextID++
	sub.id = n.nextID
	userSubs, ok := n.subs[user]
	if !ok {
		userSubs = make(map[uint64]*subscription)
		n.subs[user] = userSubs
	}
	userSubs[sub.id] = sub
	n.count++
	n.updateGaugeLocked()
	n.mu.Unlock()

	slog.Debug("Subscription opened", "user_id", user, "subscription_id", sub.id, "user_subscriptions", len(userSubs))
	return &Stream{n: n, sub: sub, keepalive: keepalive}
}

// PublishTo enqueues ev on every live subscription of user. It reports whether
// the user had any, even if some queues were full and dropped the event.
func (n *Notifier) PublishTo(user domain.UserID, ev domain.Event) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	userSubs, ok := n.subs[user]
	if !ok {
		return false
	}
	for _, sub := range userSubs {
		n.offer(sub, ev)
	}
	return true
}

// Broadcast enqueues ev on every live subscription and returns how many accepted it.
func (n *Notifier) Broadcast(ev domain.Event) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	notified := 0
	for _, userSubs := range n.subs {
		for _, sub := range userSubs {
			if n.offer(sub, ev) {
				notified++
			}
		}
	}
	return notified
}

// must be called with mu held (read or write)
func (n *Notifier) offer(sub *subscription, ev domain.Event) bool {
	if sub.offer(ev) {
		if n.metrics != nil {
			n.metrics.EventsEnqueued.Inc()
		}
		return true
	}
	slog.Warn("Subscription queue full, dropping event", "user_id", sub.user, "subscription_id", sub.id, "kind", ev.Kind)
	if n.metrics != nil {
		n.metrics.EventsDropped.Inc()
	}
	return false
}

// Unsubscribe removes every subscription of user. Pending Next calls on their
// streams return domain.ErrStreamClosed.
func (n *Notifier) Unsubscribe(user domain.UserID) {
	n.mu.Lock()
	userSubs, ok := n.subs[user]
	if ok {
		delete(n.subs, user)
		n.count -= len(userSubs)
		n.updateGaugeLocked()
	}
	n.mu.Unlock()

	if !ok {
		return
	}
	for _, sub := range userSubs {
		sub.close()
	}
	slog.Debug("User unsubscribed", "user_id", user, "subscriptions", len(userSubs))
}

// remove drops a single subscription. Safe to call after Unsubscribe or Stop.
func (n *Notifier) remove(sub *subscription) {
	n.mu.Lock()
	if userSubs, ok := n.subs[sub.user]; ok {
		if _, ok := userSubs[sub.id]; ok {
			delete(userSubs, sub.id)
			n.count--
			if len(userSubs) == 0 {
				delete(n.subs, sub.user)
			}
			n.updateGaugeLocked()
		}
	}
	n.mu.Unlock()

	sub.close()
}

// SubscriberCount returns the number of live subscriptions across all users.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.count
}

// Subscribers returns the users with at least one live subscription, sorted.
func (n *Notifier) Subscribers() []domain.UserID {
	n.mu.RLock()
	users := lo.Keys(n.subs)
	n.mu.RUnlock()

	slices.Sort(users)
	return users
}

// Stop closes every stream and rejects further subscriptions.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	all := lo.FlatMap(lo.Values(n.subs), func(userSubs map[uint64]*subscription, _ int) []*subscription {
		return lo.Values(userSubs)
	})
	n.subs = make(map[domain.UserID]map[uint64]*subscription)
	n.count = 0
	n.updateGaugeLocked()
	n.mu.Unlock()

	slog.Info("Notifier shutting down", "subscriptions", len(all))
	for _, sub := range all {
		sub.close()
	}
}

func (n *Notifier) updateGaugeLocked() {
	if n.metrics != nil {
		n.metrics.ActiveSubscriptions.Set(float64(n.count))
	}
}
