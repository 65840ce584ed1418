package notify

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Relay shares published events between server instances over a Redis
// pub/sub channel. Each instance forwards its own envelopes and delivers the
// ones published elsewhere to its local channels.
type Relay struct {
	rc      *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger

	reconnectDelay time.Duration
}

// NewRelay attaches a relay to hub. Call Run to start receiving.
func NewRelay(rc *redis.Client, channel string, hub *Hub, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Relay{rc: rc, channel: channel, hub: hub, logger: logger, reconnectDelay: time.Second}
	hub.AddForwarder(r)
	return r
}

// Forward publishes env to the shared channel.
func (r *Relay) Forward(ctx context.Context, env Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	return r.rc.Publish(ctx, r.channel, data).Err()
}

// Run subscribes to the shared channel and re-subscribes whenever the
// subscription drops, until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	for {
		r.consume(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Error("relay pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.reconnectDelay):
		}
	}
}

func (r *Relay) consume(ctx context.Context) {
	sub := r.rc.Subscribe(ctx, r.channel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := sonic.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Errorf("unable to parse relayed event: %v", err)
				continue
			}
			if env.Origin == r.hub.Origin() {
				continue
			}
			r.hub.Deliver(env)
		}
	}
}
