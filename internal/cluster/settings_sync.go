// Package cluster propagates settings changes between instances over Redis
// pub/sub. Each instance applies the shared settings row to its own runtime
// state when any instance publishes an update.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisSettingsChannel = "rota:settings:updates"
	redisSettingsTimeout = 5 * time.Second
)

type syncState struct {
	mu     sync.RWMutex
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

type settingsSyncEvent struct {
	Origin    string `json:"origin"`
	Reason    string `json:"reason,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

var (
	globalSync     syncState
	syncNodeID     = generateSyncNodeID()
	channelForSync = redisSettingsChannel
)

// EnableSynchronization subscribes to the settings channel and invokes
// onUpdate whenever another instance publishes a change. onUpdate is
// expected to reload the settings row and apply it locally.
func EnableSynchronization(ctx context.Context, client *redis.Client, onUpdate func(context.Context) error) {
	if client == nil {
		log.Warn("Settings sync disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	globalSync.mu.Lock()
	if globalSync.client != nil {
		globalSync.mu.Unlock()
		return
	}

	syncCtx, cancel := context.WithCancel(ctx)
	globalSync.client = client
	globalSync.ctx = syncCtx
	globalSync.cancel = cancel
	globalSync.mu.Unlock()

	go subscribeToSettingsUpdates(syncCtx, client, onUpdate)
}

// Disable tears the subscription down. Used by tests.
func Disable() {
	globalSync.mu.Lock()
	if globalSync.cancel != nil {
		globalSync.cancel()
	}
	globalSync.client = nil
	globalSync.ctx = nil
	globalSync.cancel = nil
	globalSync.mu.Unlock()
}

func subscribeToSettingsUpdates(ctx context.Context, client *redis.Client, onUpdate func(context.Context) error) {
	pubsub := client.Subscribe(ctx, channelForSync)
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Settings sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var event settingsSyncEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Error("Settings sync: invalid payload", "error", err)
			continue
		}

		if event.Origin == syncNodeID {
			continue
		}

		if onUpdate == nil {
			continue
		}
		if err := onUpdate(ctx); err != nil {
			log.Error("Settings sync: reload failed", "error", err)
			continue
		}
		log.Debug("Settings sync: settings reloaded", "reason", event.Reason)
	}
}

// PublishUpdate tells the other instances that the settings row changed.
func PublishUpdate(ctx context.Context, reason string) error {
	client, baseCtx := settingsRedisClient()
	if client == nil {
		return nil
	}

	event := settingsSyncEvent{
		Origin:    syncNodeID,
		Reason:    reason,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	merged := mergedContext(ctx, baseCtx)
	opCtx, cancel := redisTimeoutCtx(merged)
	defer cancel()

	return client.Publish(opCtx, channelForSync, payload).Err()
}

func settingsRedisClient() (*redis.Client, context.Context) {
	globalSync.mu.RLock()
	defer globalSync.mu.RUnlock()
	return globalSync.client, globalSync.ctx
}

func generateSyncNodeID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

func mergedContext(ctx context.Context, fallback context.Context) context.Context {
	switch {
	case ctx != nil && ctx.Err() == nil:
		return ctx
	case fallback != nil && fallback.Err() == nil:
		return fallback
	default:
		return context.Background()
	}
}

func redisTimeoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if deadline, hasDeadline := ctx.Deadline(); hasDeadline && time.Until(deadline) <= redisSettingsTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, redisSettingsTimeout)
}
