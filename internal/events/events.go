// Package events announces plugin state changes to other runtime instances
// sharing the same store, over a Redis pub/sub channel.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/plugin"
	"plugin-runtime/internal/redis"
)

// DefaultChannel is the pub/sub channel state changes are published on.
const DefaultChannel = "plugin-runtime:state"

// StateChange is the payload published after a persisted transition.
type StateChange struct {
	Origin    string    `json:"origin"`
	UUID      string    `json:"uuid"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus publishes this instance's state changes and delivers other instances'.
type Bus struct {
	client  *redis.Client
	channel string
	origin  string
	logger  logging.Logger
}

// NewBus creates a bus on channel with a fresh origin id. An empty channel
// selects DefaultChannel.
func NewBus(client *redis.Client, channel string, logger logging.Logger) *Bus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = logging.Component("events")
	}
	origin := uuid.NewString()
	return &Bus{
		client:  client,
		channel: channel,
		origin:  origin,
		logger:  logger.WithFields(logging.String("origin", origin)),
	}
}

// Origin identifies this instance on the channel.
func (b *Bus) Origin() string {
	return b.origin
}

// NotifyStateChange publishes a state change. Failures are logged: the
// change is already persisted and peers catch up on their next reload.
func (b *Bus) NotifyStateChange(ctx context.Context, id string, state plugin.State) {
	msg := StateChange{
		Origin:    b.origin,
		UUID:      id,
		State:     state.String(),
		Timestamp: time.Now().UTC(),
	}
	if err := b.client.Publish(ctx, b.channel, msg); err != nil {
		b.logger.Error("Failed to publish state change", err,
			logging.String("uuid", id),
			logging.String("state", msg.State),
		)
	}
}

// Listen delivers state changes published by other instances to handle
// until ctx is cancelled. Changes from this instance are ignored. A handler
// error is logged and listening continues.
func (b *Bus) Listen(ctx context.Context, handle func(context.Context, StateChange) error) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so no change is missed
	// once Listen is known to be running.
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.ConnectionError("failed to subscribe to state changes", err).WithContext("channel", b.channel)
	}
	b.logger.Info("Listening for plugin state changes", logging.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("State change listener stopped", logging.Field{Key: "reason", Value: ctx.Err()})
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.ConnectionError("state change subscription closed", nil)
			}

			var change StateChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logger.Warn("Discarding malformed state change", logging.Err(err))
				continue
			}
			if change.Origin == b.origin {
				continue
			}

			if err := handle(ctx, change); err != nil {
				b.logger.Error("Failed to apply state change", err,
					logging.String("uuid", change.UUID),
					logging.String("from", change.Origin),
				)
			}
		}
	}
}
