package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const relayRetryDelay = time.Second

// kindRelayDrain marks a control message that never reaches observers.
const kindRelayDrain Kind = "relay_drain"

type drainMarker struct {
	Type  Kind   `json:"type"`
	Token string `json:"token"`
}

// RedisRelay shares notifications between processes through a Redis
// pub/sub channel. As a Sink it publishes; Run feeds every payload seen on
// the channel, including this process's own, to the local Registry.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Registry

	readyOnce sync.Once
	ready     chan struct{}

	mu     sync.Mutex
	drains map[string]chan struct{}
}

// NewRedisRelay creates a relay bound to channel.
func NewRedisRelay(client *redis.Client, channel string, local *Registry) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		local:   local,
		ready:   make(chan struct{}),
		drains:  make(map[string]chan struct{}),
	}
}

// Deliver implements Sink by publishing the encoded notification.
func (r *RedisRelay) Deliver(ctx context.Context, n Notification) error {
	payload, err := n.Encode()
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", n.Kind(), r.channel, err)
	}
	return nil
}

// Drain publishes a marker and waits until this process's subscriber has
// seen it, so everything published before Drain has reached the local
// Registry.
func (r *RedisRelay) Drain(ctx context.Context) error {
	token := uuid.NewString()
	seen := make(chan struct{})
	r.mu.Lock()
	r.drains[token] = seen
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.drains, token)
		r.mu.Unlock()
	}()

	marker, err := sonic.ConfigStd.Marshal(drainMarker{Type: kindRelayDrain, Token: token})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, marker).Err(); err != nil {
		return fmt.Errorf("publishing drain marker to %s: %w", r.channel, err)
	}

	select {
	case <-seen:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for drain marker on %s: %w", r.channel, ctx.Err())
	}
}

func (r *RedisRelay) ackDrain(payload string) {
	node, err := sonic.GetFromString(payload, "token")
	if err != nil {
		return
	}
	token, err := node.String()
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if seen, ok := r.drains[token]; ok {
		close(seen)
		delete(r.drains, token)
	}
}

// Ready is closed once the first subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to the channel and rebroadcasts locally until ctx is
// cancelled, resubscribing whenever the subscription drops.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		if err := r.subscribe(ctx); err != nil {
			slog.Error("relay subscription failed", "channel", r.channel, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("relay channel closed, resubscribing", "channel", r.channel)

		select {
		case <-ctx.Done():
			return
		case <-time.After(relayRetryDelay):
		}
	}
}

func (r *RedisRelay) subscribe(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("confirming subscription: %w", err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	slog.Info("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			kind := payloadKind(msg.Payload)
			if kind == kindRelayDrain {
				r.ackDrain(msg.Payload)
				continue
			}
			r.local.BroadcastPayload(context.WithoutCancel(ctx), kind, []byte(msg.Payload))
		}
	}
}

func payloadKind(payload string) Kind {
	node, err := sonic.GetFromString(payload, "type")
	if err != nil {
		return ""
	}
	kind, err := node.String()
	if err != nil {
		return ""
	}
	return Kind(kind)
}
