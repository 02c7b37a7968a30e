// Package notify hands customer notification requests to the delivery
// channels. Delivery itself (email, WhatsApp) happens elsewhere; this package
// only enqueues requests, either into a database outbox table or onto a
// Redis list.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

// Dispatcher enqueues one notification request.
type Dispatcher interface {
	Send(ctx context.Context, kind domain.NotificationKind, targetEntityID string, payload map[string]any) error
}

// OutboxDispatcher writes requests to the notifications table.
type OutboxDispatcher struct {
	DB *gorm.DB
}

// NewOutboxDispatcher returns a dispatcher backed by the outbox table.
func NewOutboxDispatcher(db *gorm.DB) *OutboxDispatcher {
	return &OutboxDispatcher{DB: db}
}

// Send inserts a pending outbox row.
func (d *OutboxDispatcher) Send(ctx context.Context, kind domain.NotificationKind, targetEntityID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return repo.CreateNotification(ctx, d.DB, &domain.Notification{
		Kind:           kind,
		TargetEntityID: targetEntityID,
		Context:        datatypes.JSON(raw),
	})
}

// Message is the JSON document pushed onto the Redis queue.
type Message struct {
	Kind           domain.NotificationKind `json:"kind"`
	TargetEntityID string                  `json:"target_entity_id"`
	Context        map[string]any          `json:"context,omitempty"`
	EnqueuedAt     time.Time               `json:"enqueued_at"`
}

// RedisDispatcher pushes requests onto a Redis list consumed by the delivery
// workers with BRPOP.
type RedisDispatcher struct {
	Client *redis.Client
	Queue  string
	Now    func() time.Time
}

// NewRedisDispatcher returns a dispatcher writing to queue.
func NewRedisDispatcher(client *redis.Client, queue string) *RedisDispatcher {
	return &RedisDispatcher{Client: client, Queue: queue, Now: time.Now}
}

// Send LPUSHes the encoded message.
func (d *RedisDispatcher) Send(ctx context.Context, kind domain.NotificationKind, targetEntityID string, payload map[string]any) error {
	msg := Message{Kind: kind, TargetEntityID: targetEntityID, Context: payload, EnqueuedAt: d.Now().UTC()}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := d.Client.LPush(ctx, d.Queue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// NewRedisClient builds a client and verifies connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
