package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/medidash/internal/broadcast"
	"github.com/pscheid92/medidash/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	InstancesKey = "medidash:instances"

	DefaultHeartbeat  = 15 * time.Second
	unregisterTimeout = 2 * time.Second
)

// SnapshotSource is satisfied by *broadcast.Registry.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (broadcast.Snapshot, error)
}

// Instances publishes this instance's connection counts to a shared hash and
// lists the instances whose heartbeat is still fresh.
type Instances struct {
	rdb        *goredis.Client
	instanceID string
	version    string
	source     SnapshotSource
	clock      clockwork.Clock
	heartbeat  time.Duration
}

func NewInstances(rdb *goredis.Client, instanceID, version string, source SnapshotSource, clock clockwork.Clock, heartbeat time.Duration) *Instances {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Instances{
		rdb:        rdb,
		instanceID: instanceID,
		version:    version,
		source:     source,
		clock:      clock,
		heartbeat:  heartbeat,
	}
}

// staleAfter tolerates two missed heartbeats.
func (i *Instances) staleAfter() time.Duration {
	return 3 * i.heartbeat
}

// Run heartbeats until ctx is cancelled, then removes this instance.
func (i *Instances) Run(ctx context.Context) error {
	i.register(ctx)

	ticker := i.clock.NewTicker(i.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			i.register(ctx)
		case <-ctx.Done():
			i.unregister()
			return nil
		}
	}
}

func (i *Instances) register(ctx context.Context) {
	snapshot, err := i.source.Snapshot(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Skipping instance heartbeat", "error", err)
		return
	}

	info := domain.InstanceInfo{
		InstanceID:  i.instanceID,
		Version:     i.version,
		Heartbeat:   i.clock.Now().Unix(),
		Connections: snapshot.Total(),
		Classes:     make(map[string]int, len(snapshot.Classes)),
	}
	for class, n := range snapshot.Classes {
		info.Classes[class.WireName()] = n
	}

	data, err := json.Marshal(info)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode instance heartbeat", "error", err)
		return
	}
	if err := i.rdb.HSet(ctx, InstancesKey, i.instanceID, data).Err(); err != nil {
		slog.WarnContext(ctx, "Failed to write instance heartbeat", "instance_id", i.instanceID, "error", err)
	}
}

func (i *Instances) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	if err := i.rdb.HDel(ctx, InstancesKey, i.instanceID).Err(); err != nil {
		slog.Warn("Failed to unregister instance", "instance_id", i.instanceID, "error", err)
	}
}

// ActiveInstances returns fresh heartbeats sorted by instance id. Stale and
// undecodable entries are removed from the hash.
func (i *Instances) ActiveInstances(ctx context.Context) ([]domain.InstanceInfo, error) {
	entries, err := i.rdb.HGetAll(ctx, InstancesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}

	cutoff := i.clock.Now().Add(-i.staleAfter()).Unix()
	active := []domain.InstanceInfo{}
	var stale []string

	for id, data := range entries {
		var info domain.InstanceInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil || info.Heartbeat < cutoff {
			stale = append(stale, id)
			continue
		}
		active = append(active, info)
	}

	if len(stale) > 0 {
		if err := i.rdb.HDel(ctx, InstancesKey, stale...).Err(); err != nil {
			slog.WarnContext(ctx, "Failed to prune stale instances", "count", len(stale), "error", err)
		}
	}

	slices.SortFunc(active, func(a, b domain.InstanceInfo) int {
		return strings.Compare(a.InstanceID, b.InstanceID)
	})
	return active, nil
}
