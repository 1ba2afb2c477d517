// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Channel wire constants.
const (
	// DefaultName is the pub/sub channel shared by sibling contexts.
	DefaultName = "authpulse.events"

	// SchemaVersion is stamped on every outgoing message.
	SchemaVersion = "1.0.0"

	// dialTimeout bounds the total time spent trying to reach the broker
	// before the channel degrades to a no-op.
	dialTimeout = 3 * time.Second
)

// schemaConstraint gates incoming messages: any 1.x schema is accepted,
// anything else is logged and dropped.
var schemaConstraint = mustConstraint("^1")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Kind identifies the cross-context event being broadcast.
type Kind string

const (
	// KindLogin announces that this context completed a successful login.
	KindLogin Kind = "login"

	// KindLogout announces that this context logged out and cleared storage.
	KindLogout Kind = "logout"
)

// Message is the JSON payload exchanged between contexts. Delivery order is
// preserved per sender but there is no total order across three or more
// concurrently broadcasting contexts; handlers must be idempotent and
// order-independent.
type Message struct {
	ID        string    `json:"id"`
	ContextID string    `json:"context_id"`
	Kind      Kind      `json:"kind"`
	Schema    string    `json:"schema"`
	SentAt    time.Time `json:"sent_at"`
}

// Handler receives messages broadcast by sibling contexts. Messages from the
// owning context itself are filtered out before the handler runs.
type Handler func(Message)

// Channel is a push-based broadcast channel between same-machine contexts,
// carried over Redis pub/sub. A nil *Channel is a valid no-op: when the
// broker is unreachable the caller keeps the nil channel and cross-context
// consistency rides entirely on the shared-storage change feed.
type Channel struct {
	client    *redis.Client
	pubsub    *redis.PubSub
	name      string
	contextID ulid.ULID
	logger    *slog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Dial connects to the broker at addr and subscribes to name (DefaultName if
// empty). The connection attempt is retried with fibonacci backoff for up to
// three seconds; callers treating the channel as optional should log the
// error and continue with a nil channel.
func Dial(ctx context.Context, addr, name string, contextID ulid.ULID, logger *slog.Logger) (*Channel, error) {
	if name == "" {
		name = DefaultName
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	backoff := retry.WithMaxDuration(dialTimeout, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(dialCtx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(client.Ping(ctx).Err())
	})
	if err != nil {
		//nolint:errcheck // already failing; nothing to do about close errors
		client.Close()
		return nil, oops.Code("CHANNEL_DIAL_FAILED").With("addr", addr).Wrap(err)
	}

	pubsub := client.Subscribe(ctx, name)
	// Force the subscription onto the wire before we report ready, so a
	// sibling's broadcast immediately after Dial is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		//nolint:errcheck // already failing; nothing to do about close errors
		pubsub.Close()
		//nolint:errcheck
		client.Close()
		return nil, oops.Code("CHANNEL_SUBSCRIBE_FAILED").With("addr", addr).With("channel", name).Wrap(err)
	}

	return &Channel{
		client:    client,
		pubsub:    pubsub,
		name:      name,
		contextID: contextID,
		logger:    logger,
	}, nil
}

// Publish broadcasts kind to all sibling contexts. No-op on a nil channel.
func (c *Channel) Publish(ctx context.Context, kind Kind) error {
	if c == nil {
		return nil
	}

	msg := Message{
		ID:        NewContextID().String(),
		ContextID: c.contextID.String(),
		Kind:      kind,
		Schema:    SchemaVersion,
		SentAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return oops.Code("CHANNEL_ENCODE_FAILED").Wrap(err)
	}

	if err := c.client.Publish(ctx, c.name, payload).Err(); err != nil {
		return oops.Code("CHANNEL_PUBLISH_FAILED").With("kind", kind).Wrap(err)
	}
	return nil
}

// Listen starts delivering sibling broadcasts to handler until Close is
// called. Own messages, undecodable payloads, and incompatible schemas are
// dropped (the latter two with a log line). No-op on a nil channel.
func (c *Channel) Listen(handler Handler) {
	if c == nil {
		return
	}

	ch := c.pubsub.Channel()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for raw := range ch {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				c.logger.Warn("dropping undecodable cross-context message", "error", err)
				continue
			}
			if msg.ContextID == c.contextID.String() {
				continue
			}
			if !schemaCompatible(msg.Schema) {
				c.logger.Warn("dropping cross-context message with incompatible schema",
					"schema", msg.Schema,
					"supported", SchemaVersion,
				)
				continue
			}
			handler(msg)
		}
	}()
}

// Close tears the channel down and waits for the listener to drain.
// No-op on a nil channel.
func (c *Channel) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		//nolint:errcheck // shutdown path; close errors carry no signal
		c.pubsub.Close()
		c.wg.Wait()
		//nolint:errcheck
		c.client.Close()
	})
}

// schemaCompatible accepts schema versions >= 1.0.0 and < 2.0.0.
func schemaCompatible(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return schemaConstraint.Check(v)
}
