// Package events publishes sync notifications over Redis.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"yuno/policy-service/internal/policysync"
)

const (
	// ChannelPoliciesSynced receives one message per finished sync run.
	ChannelPoliciesSynced = "EVENT_POLICIES_SYNCED"
	// KeyLastSync holds the most recent report, without expiry.
	KeyLastSync = "policy_sync:last"
)

// Client is the subset of *redis.Client the notifier uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisNotifier implements policysync.Notifier.
type RedisNotifier struct {
	rdb Client
}

// NewRedisNotifier wraps rdb.
func NewRedisNotifier(rdb Client) *RedisNotifier {
	return &RedisNotifier{rdb: rdb}
}

type syncedEvent struct {
	Type string `json:"type"`
	policysync.SyncReport
}

// PoliciesSynced stores report under KeyLastSync and publishes it on
// ChannelPoliciesSynced.
func (n *RedisNotifier) PoliciesSynced(ctx context.Context, report policysync.SyncReport) error {
	payload, err := json.Marshal(syncedEvent{Type: ChannelPoliciesSynced, SyncReport: report})
	if err != nil {
		return fmt.Errorf("marshal sync report: %w", err)
	}
	if err := n.rdb.Set(ctx, KeyLastSync, payload, 0).Err(); err != nil {
		return fmt.Errorf("store %s: %w", KeyLastSync, err)
	}
	if err := n.rdb.Publish(ctx, ChannelPoliciesSynced, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ChannelPoliciesSynced, err)
	}
	return nil
}

// LastSync returns the most recent report, or nil when no run has finished.
func (n *RedisNotifier) LastSync(ctx context.Context) (*policysync.SyncReport, error) {
	raw, err := n.rdb.Get(ctx, KeyLastSync).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", KeyLastSync, err)
	}
	var ev syncedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyLastSync, err)
	}
	return &ev.SyncReport, nil
}
