package rooms

import (
	"cmp"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/roomcast/internal/adapter/metrics"
	"github.com/pscheid92/roomcast/internal/domain"
	"github.com/samber/lo"
)

// entry is the registry's handle for one connection. The per-entry mutex
// orders deliveries against removal: once Disconnect has marked the entry
// removed, no further message reaches the connection through the manager.
type entry struct {
	mu      sync.Mutex
	conn    domain.Conn
	member  domain.Member
	removed bool
}

func (e *entry) deliver(msg []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false, nil
	}
	if err := e.conn.Send(msg); err != nil {
		return false, err
	}
	return true, nil
}

func (e *entry) markRemoved() {
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
}

type room struct {
	id      domain.RoomID
	members map[string]*entry
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

// Manager tracks which live connections belong to which room.
type Manager struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*room
	conns   map[string]*entry
	stopped bool

	clock             clockwork.Clock
	maxClientsPerRoom int
	onFirstJoin       func(domain.RoomID)
	onRoomEmpty       func(domain.RoomID)
	metrics           *metrics.RoomMetrics
}

// NewManager creates an empty connection manager.
// onFirstJoin is called when a room gets its first member, onRoomEmpty when its last member leaves.
// Both run synchronously after the registry lock is released and must not block.
// maxClientsPerRoom <= 0 disables the per-room cap. m may be nil.
func NewManager(onFirstJoin, onRoomEmpty func(domain.RoomID), clock clockwork.Clock, maxClientsPerRoom int, m *metrics.RoomMetrics) *Manager {
	return &Manager{
		rooms:             make(map[domain.RoomID]*room),
		conns:             make(map[string]*entry),
		clock:             clock,
		maxClientsPerRoom: maxClientsPerRoom,
		onFirstJoin:       onFirstJoin,
		onRoomEmpty:       onRoomEmpty,
		metrics:           m,
	}
}

// Connect registers conn as a member of roomID. A connection already registered
// in another room is moved, so it never belongs to two rooms at once.
// Connecting to the room it is already in is a no-op. Member entries are
// immutable once registered.
func (m *Manager) Connect(conn domain.Conn, roomID domain.RoomID, userID domain.UserID, displayName string) error {
	if roomID == "" || userID == "" {
		return domain.ErrInvalidIdentity
	}
	select {
	case <-conn.Done():
		return domain.ErrConnClosed
	default:
	}

	connID := conn.ID()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return domain.ErrManagerStopped
	}

	prev, registered := m.conns[connID]
	if registered && prev.member.RoomID == roomID {
		m.mu.Unlock()
		return nil
	}

	target, exists := m.rooms[roomID]
	if exists && m.maxClientsPerRoom > 0 && len(target.members) >= m.maxClientsPerRoom {
		m.mu.Unlock()
		slog.Warn("Rejecting connection: room is full", "room_id", roomID, "conn_id", connID, "max_clients", m.maxClientsPerRoom)
		if m.metrics != nil {
			m.metrics.RejectedConnects.WithLabelValues("room_full").Inc()
		}
		return domain.ErrRoomFull
	}

	var emptied domain.RoomID
	if registered {
		if m.removeLocked(prev) {
			emptied = prev.member.RoomID
		}
	}

	if !exists {
		target = &room{id: roomID, members: make(map[string]*entry)}
		m.rooms[roomID] = target
	}

	e := &entry{
		conn: conn,
		member: domain.Member{
			ConnID:      connID,
			RoomID:      roomID,
			UserID:      userID,
			DisplayName: displayName,
			JoinedAt:    m.clock.Now(),
		},
	}
	target.members[connID] = e
	m.conns[connID] = e
	size := len(target.members)
	m.updateGaugesLocked()
	m.mu.Unlock()

	if registered {
		slog.Debug("Connection moved between rooms", "conn_id", connID, "from", prev.member.RoomID, "to", roomID)
	}
	if emptied != "" && m.onRoomEmpty != nil {
		m.onRoomEmpty(emptied)
	}
	if !exists && m.onFirstJoin != nil {
		m.onFirstJoin(roomID)
	}

	slog.Debug("Connection registered", "room_id", roomID, "user_id", userID, "conn_id", connID, "room_size", size)
	return nil
}

// Disconnect removes conn from its room and returns the departed member.
// It reports false, and changes nothing, when conn is not registered.
func (m *Manager) Disconnect(conn domain.Conn) (domain.Member, bool) {
	connID := conn.ID()

	m.mu.Lock()
	e, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return domain.Member{}, false
	}
	emptied := m.removeLocked(e)
	m.updateGaugesLocked()
	m.mu.Unlock()

	if emptied {
		slog.Info("Last connection left room", "room_id", e.member.RoomID)
		if m.onRoomEmpty != nil {
			m.onRoomEmpty(e.member.RoomID)
		}
	} else {
		slog.Debug("Connection unregistered", "room_id", e.member.RoomID, "conn_id", connID)
	}

	return e.member, true
}

// removeLocked drops e from both indexes and reports whether its room became empty.
// Must be called with mu held.
func (m *Manager) removeLocked(e *entry) bool {
	e.markRemoved()
	delete(m.conns, e.member.ConnID)

	r, ok := m.rooms[e.member.RoomID]
	if !ok {
		return false
	}
	delete(r.members, e.member.ConnID)
	if len(r.members) > 0 {
		return false
	}
	delete(m.rooms, r.id)
	return true
}

// SendTo delivers msg to a single registered connection. Transport failures
// are logged and counted, never returned; the result reports whether the
// message was handed to the transport.
func (m *Manager) SendTo(conn domain.Conn, msg []byte) bool {
	m.mu.RLock()
	e, ok := m.conns[conn.ID()]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return m.deliver(e, msg)
}

// Broadcast delivers msg to every member of roomID except exclude (which may be nil)
// and returns the number of successful deliveries.
func (m *Manager) Broadcast(roomID domain.RoomID, msg []byte, exclude domain.Conn) int {
	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID()
	}
	return m.BroadcastExcept(roomID, msg, excludeID)
}

// BroadcastExcept is Broadcast keyed by connection id, for callers that only
// know the excluded connection by id (relayed messages from other instances).
func (m *Manager) BroadcastExcept(roomID domain.RoomID, msg []byte, excludeConnID string) int {
	recipients := m.snapshot(roomID)

	delivered := 0
	for _, e := range recipients {
		if e.member.ConnID == excludeConnID {
			continue
		}
		if m.deliver(e, msg) {
			delivered++
		}
	}

	if m.metrics != nil {
		m.metrics.BroadcastFanout.Observe(float64(len(recipients)))
	}
	return delivered
}

func (m *Manager) deliver(e *entry, msg []byte) bool {
	ok, err := e.deliver(msg)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, domain.ErrConnClosed):
			reason = "closed"
		case errors.Is(err, domain.ErrSlowConsumer):
			reason = "slow_consumer"
		}
		slog.Warn("Delivery failed", "room_id", e.member.RoomID, "conn_id", e.member.ConnID, "reason", reason, "error", err)
		if m.metrics != nil {
			m.metrics.DeliveryFailures.WithLabelValues(reason).Inc()
		}
		return false
	}
	if ok && m.metrics != nil {
		m.metrics.Deliveries.Inc()
	}
	return ok
}

func (m *Manager) snapshot(roomID domain.RoomID) []*entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return lo.Values(r.members)
}

// Members returns the members of roomID ordered by join time.
func (m *Manager) Members(roomID domain.RoomID) []domain.Member {
	members := lo.Map(m.snapshot(roomID), func(e *entry, _ int) domain.Member {
		return e.member
	})
	slices.SortFunc(members, func(a, b domain.Member) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConnID, b.ConnID)
	})
	return members
}

// RoomSize returns the number of connections in roomID.
func (m *Manager) RoomSize(roomID domain.RoomID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, ok := m.rooms[roomID]; ok {
		return len(r.members)
	}
	return 0
}

// Lookup resolves a registered connection by id.
func (m *Manager) Lookup(connID string) (domain.Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.conns[connID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Member returns the registered member entry for connID.
func (m *Manager) Member(connID string) (domain.Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.conns[connID]
	if !ok {
		return domain.Member{}, false
	}
	return e.member, true
}

// Rooms returns the ids of all non-empty rooms, sorted.
func (m *Manager) Rooms() []domain.RoomID {
	m.mu.RLock()
	ids := lo.Keys(m.rooms)
	m.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Stats returns room and connection counts.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Rooms: len(m.rooms), Connections: len(m.conns)}
}

// Stop closes every registered connection with reason and rejects further connects.
func (m *Manager) Stop(reason string) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	entries := lo.Values(m.conns)
	roomIDs := lo.Keys(m.rooms)
	for _, e := range entries {
		e.markRemoved()
	}
	m.rooms = make(map[domain.RoomID]*room)
	m.conns = make(map[string]*entry)
	m.updateGaugesLocked()
	m.mu.Unlock()

	slog.Info("Connection manager shutting down", "rooms", len(roomIDs), "connections", len(entries))

	for _, e := range entries {
		if err := e.conn.Close(reason); err != nil {
			slog.Debug("Close during shutdown failed", "conn_id", e.member.ConnID, "error", err)
		}
	}
	if m.onRoomEmpty != nil {
		for _, id := range roomIDs {
			m.onRoomEmpty(id)
		}
	}
}

// updateGaugesLocked must be called with mu held.
func (m *Manager) updateGaugesLocked() {
	if m.metrics == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(len(m.rooms)))
	m.metrics.ConnectedClients.Set(float64(len(m.conns)))
}
