package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	instancesKey       = "roomcast:instances"
	instanceStaleAfter = 60 * time.Second
	unregisterTimeout  = 2 * time.Second
)

// InstanceLoad is the local load an instance reports with each heartbeat.
type InstanceLoad struct {
	Rooms         int `json:"rooms"`
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
}

// InstanceInfo is one instance's last heartbeat.
type InstanceInfo struct {
	InstanceID  string       `json:"instance_id"`
	Version     string       `json:"version"`
	Load        InstanceLoad `json:"load"`
	HeartbeatAt time.Time    `json:"heartbeat_at"`
}

// InstanceRegistry advertises this instance in a shared Redis hash so that
// every instance behind the relay can list its peers.
type InstanceRegistry struct {
	rdb        *goredis.Client
	instanceID string
	version    string
	heartbeat  time.Duration
	clock      clockwork.Clock
	load       func() InstanceLoad
}

// NewInstanceRegistry creates a registry entry for instanceID. load is
// sampled on every heartbeat and may be nil.
func NewInstanceRegistry(rdb *goredis.Client, instanceID, version string, heartbeat time.Duration, clock clockwork.Clock, load func() InstanceLoad) *InstanceRegistry {
	return &InstanceRegistry{
		rdb:        rdb,
		instanceID: instanceID,
		version:    version,
		heartbeat:  heartbeat,
		clock:      clock,
		load:       load,
	}
}

// Run registers immediately and refreshes the heartbeat until ctx is done,
// then removes the entry.
func (r *InstanceRegistry) Run(ctx context.Context) error {
	if err := r.register(ctx); err != nil {
		slog.Warn("Instance heartbeat failed", "instance_id", r.instanceID, "error", err)
	}

	ticker := r.clock.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := r.register(ctx); err != nil {
				slog.Warn("Instance heartbeat failed", "instance_id", r.instanceID, "error", err)
			}
		case <-ctx.Done():
			r.unregister(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (r *InstanceRegistry) register(ctx context.Context) error {
	info := InstanceInfo{
		InstanceID:  r.instanceID,
		Version:     r.version,
		HeartbeatAt: r.clock.Now().UTC(),
	}
	if r.load != nil {
		info.Load = r.load()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode instance info: %w", err)
	}
	if err := r.rdb.HSet(ctx, instancesKey, r.instanceID, data).Err(); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

func (r *InstanceRegistry) unregister(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, unregisterTimeout)
	defer cancel()

	if err := r.rdb.HDel(ctx, instancesKey, r.instanceID).Err(); err != nil {
		slog.Warn("Failed to unregister instance", "instance_id", r.instanceID, "error", err)
	}
}

// Active returns the instances whose heartbeat is recent, ordered by id.
// Stale and unreadable entries are pruned as a side effect.
func (r *InstanceRegistry) Active(ctx context.Context) ([]InstanceInfo, error) {
	entries, err := r.rdb.HGetAll(ctx, instancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}

	now := r.clock.Now()
	active := make([]InstanceInfo, 0, len(entries))
	var stale []string
	for id, data := range entries {
		var info InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil || now.Sub(info.HeartbeatAt) >= instanceStaleAfter {
			stale = append(stale, id)
			continue
		}
		active = append(active, info)
	}

	if len(stale) > 0 {
		if err := r.rdb.HDel(ctx, instancesKey, stale...).Err(); err != nil {
			slog.Debug("Failed to prune stale instances", "count", len(stale), "error", err)
		}
	}

	slices.SortFunc(active, func(a, b InstanceInfo) int {
		return cmp.Compare(a.InstanceID, b.InstanceID)
	})
	return active, nil
}
