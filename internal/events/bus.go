// Package events distributes partner-configuration change notifications
// across gateway instances over Redis Pub/Sub. A partner created or disabled
// on one instance would otherwise stay stale in every other instance's cache
// until the TTL expires; the bus closes that gap. When Redis is unreachable
// the gateway degrades to local-only invalidation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PartnerChange announces that a partner configuration changed. An empty
// PartnerID means the whole active set should be reloaded.
type PartnerChange struct {
	ID        string    `json:"id"`
	PartnerID string    `json:"partner_id,omitempty"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus publishes and receives partner-change events on one Redis channel.
type Bus struct {
	rdb     *redis.Client
	channel string
	origin  string // this instance's id; own events are skipped on receive

	mu     sync.Mutex
	sub    *redis.PubSub
	closed bool

	wg     sync.WaitGroup
	logger *log.Logger
}

// NewBus connects to Redis and verifies connectivity.
func NewBus(addr, password string, db int, channel string) (*Bus, error) {
	if channel == "" {
		channel = "eroaming:partners:changed"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	return &Bus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  log.New(log.Writer(), "[EVENT-BUS] ", log.LstdFlags),
	}, nil
}

// PublishPartnerChanged announces a single-partner change, or a full refresh
// when partnerID is empty. Publish failures are logged, not returned: the
// local cache was already updated and the siblings converge via TTL.
func (b *Bus) PublishPartnerChanged(ctx context.Context, partnerID string) {
	change := PartnerChange{
		ID:        uuid.NewString(),
		PartnerID: partnerID,
		Origin:    b.origin,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(change)
	if err != nil {
		b.logger.Printf("⚠️ Failed to marshal partner change: %v", err)
		return
	}

	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Printf("⚠️ Publish failed, sibling caches converge via TTL: %v", err)
	}
}

// SubscribePartnerChanged starts delivering partner changes from other
// instances to the handler. Events published by this instance are skipped.
func (b *Bus) SubscribePartnerChanged(handler func(partnerID string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	if b.sub != nil {
		return fmt.Errorf("already subscribed")
	}

	b.sub = b.rdb.Subscribe(context.Background(), b.channel)
	ch := b.sub.Channel()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			var change PartnerChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logger.Printf("⚠️ Failed to unmarshal partner change: %v", err)
				continue
			}
			if change.Origin == b.origin {
				continue
			}
			handler(change.PartnerID)
		}
	}()

	return nil
}

// Close shuts down the subscription and the Redis client.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	sub := b.sub
	b.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	b.wg.Wait()
	return b.rdb.Close()
}
