// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

//go:build integration

package integration

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/authpulse/authpulse/internal/authstate"
	"github.com/authpulse/authpulse/internal/channel"
	"github.com/authpulse/authpulse/internal/persist"
)

// simContext simulates one client process: its own memory tier, manager,
// cleaner, and broadcast channel, all over shared machine-wide state.
type simContext struct {
	id      string
	memory  *persist.MemoryStore
	shared  *persist.FileStore
	cleaner *persist.Cleaner
	mgr     *authstate.Manager
	bcast   *channel.Channel
}

func newSimContext(ctx context.Context, stateDir, redisAddr string) (*simContext, error) {
	contextID := channel.NewContextID()

	sc := &simContext{
		id:     contextID.String(),
		memory: persist.NewMemoryStore(),
		shared: persist.NewFileStore(filepath.Join(stateDir, "shared.json"), contextID.String()),
	}
	sc.cleaner = persist.NewCleaner(persist.CleanerConfig{
		Memory:    sc.memory,
		Shared:    sc.shared,
		ContextID: sc.id,
		Logger:    slog.Default(),
	})
	sc.mgr = authstate.NewManager(authstate.ManagerConfig{
		NotifyWait:    10 * time.Millisecond,
		NotifyMaxWait: 50 * time.Millisecond,
	})

	bcast, err := channel.Dial(ctx, redisAddr, "", contextID, slog.Default())
	if err != nil {
		return nil, err
	}
	sc.bcast = bcast
	return sc, nil
}

func (sc *simContext) close() {
	sc.bcast.Close()
	sc.mgr.Close()
}

var _ = Describe("Cross-context consistency", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		redis    *miniredis.Miniredis
		stateDir string
		ctxA     *simContext
		ctxB     *simContext
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), time.Minute)

		var err error
		redis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())

		stateDir = GinkgoT().TempDir()

		ctxA, err = newSimContext(ctx, stateDir, redis.Addr())
		Expect(err).NotTo(HaveOccurred())
		ctxB, err = newSimContext(ctx, stateDir, redis.Addr())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		ctxA.close()
		ctxB.close()
		redis.Close()
		cancel()
	})

	Describe("login broadcast", func() {
		It("reaches the sibling but not the sender", func() {
			var aGot, bGot atomic.Int32
			ctxA.bcast.Listen(func(msg channel.Message) {
				if msg.Kind == channel.KindLogin {
					aGot.Add(1)
				}
			})
			ctxB.bcast.Listen(func(msg channel.Message) {
				if msg.Kind == channel.KindLogin {
					bGot.Add(1)
				}
			})

			Expect(ctxA.bcast.Publish(ctx, channel.KindLogin)).To(Succeed())

			Eventually(bGot.Load, 3*time.Second, 20*time.Millisecond).Should(BeEquivalentTo(1))
			Consistently(aGot.Load, 200*time.Millisecond, 20*time.Millisecond).Should(BeZero())
		})

		It("lets the sibling adopt the new session", func() {
			loginSeen := make(chan struct{}, 1)
			ctxB.bcast.Listen(func(msg channel.Message) {
				if msg.Kind != channel.KindLogin {
					return
				}
				// What the run loop does on a sibling login: read the
				// shared session and adopt it.
				userID, ok, err := ctxB.shared.Get(persist.MonitoredKey)
				if err == nil && ok {
					ctxB.mgr.UpdateFromStorage(&authstate.Identity{ID: userID})
				}
				loginSeen <- struct{}{}
			})

			// Context A logs in.
			Expect(ctxA.shared.Set(persist.MonitoredKey, "u42")).To(Succeed())
			ctxA.mgr.RecordSuccess(authstate.Identity{ID: "u42"}, authstate.SourceNetwork)
			Expect(ctxA.bcast.Publish(ctx, channel.KindLogin)).To(Succeed())

			Eventually(loginSeen, 3*time.Second).Should(Receive())
			Eventually(func() bool {
				return ctxB.mgr.GetState().Authenticated
			}, time.Second, 10*time.Millisecond).Should(BeTrue())
			Expect(ctxB.mgr.GetState().User.ID).To(Equal("u42"))
		})
	})

	Describe("logout via shared storage", func() {
		It("propagates without the broker", func() {
			// The broker is deliberately unused here: only the storage
			// change feed carries the signal.
			Expect(ctxA.shared.Set(persist.MonitoredKey, "u42")).To(Succeed())
			Expect(ctxB.memory.Set("access_token", "secret")).To(Succeed())
			ctxB.mgr.RecordSuccess(authstate.Identity{ID: "u42"}, authstate.SourceStorage)

			stop, err := ctxB.cleaner.SetupAuthStateMonitor(func() {
				ctxB.mgr.Reset()
			})
			Expect(err).NotTo(HaveOccurred())
			defer stop()

			// Context A performs a full logout.
			ctxA.cleaner.ClearAllAuthData(ctx)
			ctxA.cleaner.MarkLogoutState()

			Eventually(func() bool {
				return ctxB.mgr.GetState().Authenticated
			}, 5*time.Second, 20*time.Millisecond).Should(BeFalse())

			Eventually(func() bool {
				_, ok, err := ctxB.memory.Get("access_token")
				return err == nil && !ok
			}, 5*time.Second, 20*time.Millisecond).Should(BeTrue(),
				"B's own memory tier is cleared by its local cleanup")

			Expect(ctxB.cleaner.IsInLogoutState()).To(BeTrue())
		})

		It("does not fire for the context that logged out", func() {
			Expect(ctxA.shared.Set(persist.MonitoredKey, "u42")).To(Succeed())

			var fired atomic.Int32
			stop, err := ctxA.cleaner.SetupAuthStateMonitor(func() {
				fired.Add(1)
			})
			Expect(err).NotTo(HaveOccurred())
			defer stop()

			ctxA.cleaner.ClearAllAuthData(ctx)

			Consistently(fired.Load, 500*time.Millisecond, 50*time.Millisecond).Should(BeZero())
		})
	})

	Describe("logout broadcast", func() {
		It("converges both contexts to logged out", func() {
			Expect(ctxA.shared.Set(persist.MonitoredKey, "u42")).To(Succeed())
			ctxA.mgr.RecordSuccess(authstate.Identity{ID: "u42"}, authstate.SourceNetwork)
			ctxB.mgr.RecordSuccess(authstate.Identity{ID: "u42"}, authstate.SourceStorage)

			ctxB.bcast.Listen(func(msg channel.Message) {
				if msg.Kind != channel.KindLogout {
					return
				}
				ctxB.cleaner.ClearAllAuthData(ctx)
				ctxB.cleaner.MarkLogoutState()
				ctxB.mgr.Reset()
			})

			// Context A logs out and broadcasts.
			ctxA.cleaner.ClearAllAuthData(ctx)
			ctxA.cleaner.MarkLogoutState()
			ctxA.mgr.Reset()
			Expect(ctxA.bcast.Publish(ctx, channel.KindLogout)).To(Succeed())

			for _, sc := range []*simContext{ctxA, ctxB} {
				Eventually(func() bool {
					return sc.mgr.GetState().Authenticated
				}, 3*time.Second, 20*time.Millisecond).Should(BeFalse())
			}

			keys, err := ctxB.shared.Keys()
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).NotTo(ContainElement(persist.MonitoredKey))
		})
	})
})
