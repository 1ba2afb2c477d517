// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

package channel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// msgRecorder collects handler deliveries.
type msgRecorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *msgRecorder) handle(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *msgRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *msgRecorder) last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func TestNewContextID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewContextID().String()
		assert.False(t, seen[id], "context IDs must be unique")
		seen[id] = true
	}
}

func TestChannel_SiblingBroadcast(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	a, err := Dial(ctx, srv.Addr(), "", NewContextID(), nil)
	require.NoError(t, err)
	defer a.Close()

	b, err := Dial(ctx, srv.Addr(), "", NewContextID(), nil)
	require.NoError(t, err)
	defer b.Close()

	rec := &msgRecorder{}
	a.Listen(rec.handle)

	require.NoError(t, b.Publish(ctx, KindLogin))

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := rec.last()
	assert.Equal(t, KindLogin, got.Kind)
	assert.Equal(t, b.contextID.String(), got.ContextID)
	assert.Equal(t, SchemaVersion, got.Schema)
}

func TestChannel_DropsOwnMessages(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := Dial(ctx, srv.Addr(), "", NewContextID(), nil)
	require.NoError(t, err)
	defer c.Close()

	rec := &msgRecorder{}
	c.Listen(rec.handle)

	require.NoError(t, c.Publish(ctx, KindLogout))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count(), "a context never hears its own broadcasts")
}

func TestChannel_DropsIncompatibleSchema(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := Dial(ctx, srv.Addr(), "", NewContextID(), nil)
	require.NoError(t, err)
	defer c.Close()

	rec := &msgRecorder{}
	c.Listen(rec.handle)

	// Raw publisher bypassing the schema stamp.
	raw := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer raw.Close()

	bad, err := json.Marshal(Message{
		ID:        NewContextID().String(),
		ContextID: NewContextID().String(),
		Kind:      KindLogin,
		Schema:    "2.0.0",
		SentAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, raw.Publish(ctx, DefaultName, bad).Err())
	require.NoError(t, raw.Publish(ctx, DefaultName, "not json").Err())

	ok, err := json.Marshal(Message{
		ID:        NewContextID().String(),
		ContextID: NewContextID().String(),
		Kind:      KindLogin,
		Schema:    "1.2.0",
		SentAt:    time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, raw.Publish(ctx, DefaultName, ok).Err())

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 2*time.Second, 10*time.Millisecond, "only the compatible message is delivered")
	assert.Equal(t, "1.2.0", rec.last().Schema)
}

func TestChannel_NilIsNoOp(t *testing.T) {
	var c *Channel

	assert.NoError(t, c.Publish(context.Background(), KindLogin))
	c.Listen(func(Message) { t.Fatal("handler must never run on a nil channel") })
	c.Close()
}

func TestChannel_DialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", "", NewContextID(), nil)
	assert.Error(t, err, "unreachable broker yields an error so the caller can degrade")
}

func TestSchemaCompatible(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"1.0.0", true},
		{"1.9.3", true},
		{"0.9.0", false},
		{"2.0.0", false},
		{"garbage", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, schemaCompatible(tt.version))
		})
	}
}
