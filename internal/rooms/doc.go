// Package rooms implements the room connection manager.
//
// The Manager maps rooms to live connections and connections back to their member identity.
// One RWMutex guards both indexes and is held only while they are mutated or snapshotted;
// broadcasts iterate a snapshot and hand messages to each connection's non-blocking Send,
// so a slow or dead transport never stalls the broadcaster or unrelated rooms.
// Delivery failures are isolated per recipient, logged and counted.
package rooms
