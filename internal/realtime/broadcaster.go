package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LocalBroadcaster publishes to this instance's hub only.
type LocalBroadcaster struct {
	hub *Hub
	now func() time.Time
}

func NewLocalBroadcaster(hub *Hub) *LocalBroadcaster {
	return &LocalBroadcaster{hub: hub, now: time.Now}
}

func (b *LocalBroadcaster) SessionChanged(ctx context.Context, room string, userID snowflake.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.hub.Publish(room, sessionChangedEvent(userID, b.now()))
	return nil
}

type NoopBroadcaster struct{}

func NewNoopBroadcaster() NoopBroadcaster {
	return NoopBroadcaster{}
}

func (NoopBroadcaster) SessionChanged(context.Context, string, snowflake.ID) error {
	return nil
}

func sessionChangedEvent(userID snowflake.ID, at time.Time) Event {
	return Event{
		Type:       EventSessionChanged,
		UserID:     userID.String(),
		OccurredAt: at.UTC(),
	}
}

// envelope is the message exchanged between instances over Redis.
type envelope struct {
	Room  string `json:"room"`
	Event Event  `json:"event"`
}

// RedisBroadcaster publishes session changes on a Redis channel so that
// every instance's Relay can deliver them to its own connections.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel, now: time.Now}
}

func (b *RedisBroadcaster) SessionChanged(ctx context.Context, room string, userID snowflake.ID) error {
	payload, err := json.Marshal(envelope{Room: room, Event: sessionChangedEvent(userID, b.now())})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish session change: %w", err)
	}
	return nil
}

// Relay copies messages from the Redis channel into the local hub.
type Relay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger
}

func NewRelay(client *redis.Client, channel string, hub *Hub, log *zap.Logger) *Relay {
	return &Relay{client: client, channel: channel, hub: hub, log: log.Named("realtime.relay")}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *Relay) deliver(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.log.Warn("dropping malformed session change", zap.Error(err))
		return
	}
	r.hub.Publish(env.Room, env.Event)
}
