// Package relay forwards broadcaster envelopes between processes over
// Redis pub/sub, so members connected to another instance still receive
// events.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/tavern-chat/backend/internal/config"
	"github.com/zhouzirui/tavern-chat/backend/internal/realtime"
)

var log = logrus.WithField("component", "relay")

// Redis implements realtime.Relay.
type Redis struct {
	client     *redis.Client
	channel    string
	instanceID string
}

// NewRedis connects to cfg.RedisURL and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RelayConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedis(client, cfg.Channel), nil
}

func newRedis(client *redis.Client, channel string) *Redis {
	return &Redis{client: client, channel: channel, instanceID: uuid.NewString()}
}

// InstanceID identifies this process in relayed envelopes.
func (r *Redis) InstanceID() string {
	return r.instanceID
}

// Publish sends env to every subscribed instance.
func (r *Redis) Publish(ctx context.Context, env realtime.RelayEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Run subscribes to the channel and hands envelopes from other instances to
// deliver until ctx is done.
func (r *Redis) Run(ctx context.Context, deliver func(realtime.RelayEnvelope)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	log.WithFields(logrus.Fields{"channel": r.channel, "instance": r.instanceID}).Info("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, deliver)
		}
	}
}

func (r *Redis) handle(payload string, deliver func(realtime.RelayEnvelope)) {
	var env realtime.RelayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.WithError(err).Warn("drop malformed envelope")
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	deliver(env)
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
