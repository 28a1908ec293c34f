// Package relay bridges sync events across API instances through Redis
// pub/sub. Each instance publishes everything it emits and replays what
// other instances published, so a user connected elsewhere still gets the
// event. Without Redis the hub alone serves single-instance deployments.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dialogs/internal/event"
	"github.com/dialogs/internal/logger"
	"github.com/dialogs/internal/metrics"
)

const publishTimeout = 2 * time.Second

// frame is the wire form on the relay channel. Origin filters out the
// instance's own echoes.
type frame struct {
	Origin  string          `json:"origin"`
	UserID  string          `json:"user_id"`
	Type    event.Type      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Relay implements event.Publisher: it delivers locally through the wrapped
// publisher and mirrors the event to the Redis channel for other instances.
type Relay struct {
	local   event.Publisher
	rdb     *redis.Client
	channel string
	origin  string
}

func New(local event.Publisher, rdb *redis.Client, channel string) *Relay {
	return &Relay{
		local:   local,
		rdb:     rdb,
		channel: channel,
		origin:  uuid.New().String(),
	}
}

func (r *Relay) Publish(userID string, ev event.Envelope) {
	r.local.Publish(userID, ev)

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		logger.Errorf("relay marshal payload %s: %v", ev.Type, err)
		return
	}
	raw, err := json.Marshal(frame{Origin: r.origin, UserID: userID, Type: ev.Type, Payload: payload})
	if err != nil {
		logger.Errorf("relay marshal frame %s: %v", ev.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		logger.Errorf("relay publish %s: %v", ev.Type, err)
		return
	}
	metrics.RelayPublished.Inc()
}

// Run subscribes to the relay channel and replays remote events into the
// local publisher until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	ch := sub.Channel()
	logger.Infof("relay subscribed to %s", r.channel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var f frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				logger.Errorf("relay unmarshal: %v", err)
				continue
			}
			if f.Origin == r.origin {
				continue
			}
			r.local.Publish(f.UserID, event.Envelope{Type: f.Type, Payload: f.Payload})
		}
	}
}
