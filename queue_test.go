package rq

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_NormalFlow(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			q := newTestQueue(t, factory.new(t))

			id, err := q.Send(ctx, map[string]int{"x": 1}, time.Minute)
			require.NoError(t, err)

			msg, err := q.Receive("0").Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, msg.ID)
			assert.JSONEq(t, `{"x":1}`, string(msg.Data))
			assert.Equal(t, q.Keys().Ready, msg.Queue)

			info, err := q.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, QueueInfo{Ready: 0, InFlight: 1, Pending: 1}, info)

			require.NoError(t, msg.Ack(ctx))

			info, err = q.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, QueueInfo{}, info)

			waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()
			again, err := q.Receive("0").Next(waitCtx)
			assert.Nil(t, again)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
		})
	}
}

func TestQueue_Send(t *testing.T) {
	now := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	q := newTestQueue(t, NewInProcessDriver())
	q.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := q.Send(ctx, "payload", -time.Second)
	assert.ErrorIs(t, err, ErrInvalidTimeout)

	id, err := q.Send(ctx, "payload", 0)
	require.NoError(t, err)
	stored, err := q.driver.HashGet(ctx, q.keys.Pending, id)
	require.NoError(t, err)
	msg, err := ParseMessage(stored)
	require.NoError(t, err)
	assert.True(t, now.Add(DefaultTimeout).Equal(msg.ExpireAt))

	ready, err := q.driver.Range(ctx, q.keys.Ready, 0, -1)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, string(stored), string(ready[0]))

	other, err := q.Send(ctx, "payload", 0)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestQueue_FIFO(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			q := newTestQueue(t, factory.new(t))
			var ids []string
			for i := 0; i < 3; i++ {
				id, err := q.Send(ctx, i, time.Minute)
				require.NoError(t, err)
				ids = append(ids, id)
			}
			r := q.Receive("0")
			for _, id := range ids {
				msg, err := r.Next(ctx)
				require.NoError(t, err)
				assert.Equal(t, id, msg.ID)
			}
		})
	}
}

func TestQueue_PickupReadsLatestDeadline(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewInProcessDriver())

	id, err := q.Send(ctx, "payload", time.Minute)
	require.NoError(t, err)
	stored, err := q.driver.HashGet(ctx, q.keys.Pending, id)
	require.NoError(t, err)
	original, err := ParseMessage(stored)
	require.NoError(t, err)

	updated := original.extend(original.ExpireAt.Add(time.Hour))
	b, err := updated.Marshal()
	require.NoError(t, err)
	require.NoError(t, q.driver.HashSet(ctx, q.keys.Pending, id, b))

	msg, err := q.Receive("0").Next(ctx)
	require.NoError(t, err)
	assert.True(t, updated.ExpireAt.Equal(msg.ExpireAt))

	require.NoError(t, msg.Ack(ctx))
	info, err := q.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueInfo{}, info)
}

func TestQueue_PickupRegistersMissingPendingEntry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewInProcessDriver())
	m := &Message{ID: "orphan", Data: json.RawMessage(`1`), Queue: q.keys.Ready, ExpireAt: time.Now().Add(time.Minute)}
	b, err := m.Marshal()
	require.NoError(t, err)
	require.NoError(t, q.driver.Push(ctx, q.keys.Ready, b))

	msg, err := q.Receive("0").Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orphan", msg.ID)

	stored, err := q.driver.HashGet(ctx, q.keys.Pending, "orphan")
	require.NoError(t, err)
	assert.Equal(t, string(b), string(stored))
}

func TestQueue_AckForeignEncoding(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			q := newTestQueue(t, factory.new(t))
			raw := []byte(`{"id": "py-1", "data": {"x": 1}, "queue": "` + q.keys.Ready + `", "expire_at": "2099-01-01T00:00:00.000000"}`)
			require.NoError(t, q.driver.HashSet(ctx, q.keys.Pending, "py-1", raw))
			require.NoError(t, q.driver.Push(ctx, q.keys.Ready, raw))

			msg, err := q.Receive("0").Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, "py-1", msg.ID)
			require.NoError(t, msg.Ack(ctx))

			info, err := q.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, QueueInfo{}, info)
		})
	}
}

func TestQueue_Malformed(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			q := newTestQueue(t, factory.new(t))
			require.NoError(t, q.driver.Push(ctx, q.keys.Ready, []byte("garbage")))

			_, err := q.Receive("0").Next(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var malformed *MalformedError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, "garbage", string(malformed.Raw))

			info, err := q.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, QueueInfo{Malformed: 1}, info)
			stored, err := q.driver.Range(ctx, q.keys.Malformed, 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"garbage"}, strs(stored))
		})
	}
}

func TestQueue_MalformedPendingEntry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewInProcessDriver())
	id, err := q.Send(ctx, "work", time.Minute)
	require.NoError(t, err)
	require.NoError(t, q.driver.HashSet(ctx, q.keys.Pending, id, []byte("garbage")))

	msg, err := q.Receive("0").Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, msg.ID)

	stored, err := q.driver.HashGet(ctx, q.keys.Pending, id)
	require.NoError(t, err)
	assert.Equal(t, string(msg.raw), string(stored))
}

func TestQueue_AckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, NewInProcessDriver())
	_, err := q.Send(ctx, 1, time.Minute)
	require.NoError(t, err)
	msg, err := q.Receive("0").Next(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Ack(ctx))
	require.NoError(t, msg.Ack(ctx))
}

func TestQueue_CrashRecovery(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			q := newTestQueue(t, factory.new(t))
			reclaimer := NewReclaimer(q, ReclaimEvery(10*time.Millisecond, 10*time.Millisecond), ExtendBy(time.Minute))

			id, err := q.Send(ctx, map[string]int{"x": 2}, 20*time.Millisecond)
			require.NoError(t, err)

			first, err := q.Receive("crashing").Next(ctx)
			require.NoError(t, err)
			require.Equal(t, id, first.ID)

			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- reclaimer.Run(runCtx) }()

			second, err := q.Receive("healthy").Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, id, second.ID)
			assert.JSONEq(t, `{"x":2}`, string(second.Data))
			assert.True(t, second.ExpireAt.After(first.ExpireAt))

			stop()
			assert.ErrorIs(t, <-done, context.Canceled)

			require.NoError(t, second.Ack(ctx))
			info, err := q.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, QueueInfo{}, info)
		})
	}
}

func TestQueue_ConcurrentWorkers(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			q := newTestQueue(t, factory.new(t))

			sent := make(map[string]bool)
			for i := 0; i < 10; i++ {
				id, err := q.Send(ctx, i, time.Minute)
				require.NoError(t, err)
				sent[id] = true
			}

			var (
				mu       sync.Mutex
				received = make(map[string]string)
				dupes    []string
				wg       sync.WaitGroup
			)
			for _, worker := range []string{"0", "1"} {
				wg.Add(1)
				go func(worker string) {
					defer wg.Done()
					r := q.Receive(worker)
					for {
						waitCtx, stop := context.WithTimeout(ctx, 200*time.Millisecond)
						msg, err := r.Next(waitCtx)
						stop()
						if err != nil {
							return
						}
						mu.Lock()
						if _, ok := received[msg.ID]; ok {
							dupes = append(dupes, msg.ID)
						}
						received[msg.ID] = worker
						mu.Unlock()
					}
				}(worker)
			}
			wg.Wait()

			assert.Empty(t, dupes)
			assert.Len(t, received, 10)
			for id := range received {
				assert.True(t, sent[id])
			}
		})
	}
}

func TestQueue_BlockingReceive(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			q := newTestQueue(t, factory.new(t), UsePopTimeout(time.Second))

			go func() {
				time.Sleep(150 * time.Millisecond)
				_, _ = q.Send(context.Background(), "late", time.Minute)
			}()
			msg, err := q.Receive("0").Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, `"late"`, string(msg.Data))
		})
	}
}

func TestQueue_Reload(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			q := newTestQueue(t, factory.new(t))
			for i := 0; i < 3; i++ {
				_, err := q.Send(ctx, i, time.Minute)
				require.NoError(t, err)
			}
			r := q.Receive("0")
			for i := 0; i < 3; i++ {
				_, err := r.Next(ctx)
				require.NoError(t, err)
			}
			require.NoError(t, q.driver.Push(ctx, q.keys.InFlight, []byte("garbage")))

			n, err := q.Reload(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			info, err := q.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, QueueInfo{Ready: 3, InFlight: 0, Pending: 3, Malformed: 1}, info)

			require.NoError(t, q.Flush(ctx))
			info, err = q.Info(ctx)
			require.NoError(t, err)
			assert.Equal(t, QueueInfo{}, info)
		})
	}
}

func TestQueue_ReloadKeepsLaterDeadline(t *testing.T) {
	for _, factory := range driverFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			q, c := newClockedQueue(t, factory.new(t))
			r := q.Receive("0")

			_, err := q.Send(ctx, "long", time.Hour)
			require.NoError(t, err)
			before, err := r.Next(ctx)
			require.NoError(t, err)

			n, err := q.Reload(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
			after, err := r.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, before.ID, after.ID)
			assert.True(t, after.ExpireAt.Equal(before.ExpireAt), "got %s, want %s", after.ExpireAt, before.ExpireAt)

			c.Advance(2 * time.Hour)
			_, err = q.Reload(ctx)
			require.NoError(t, err)
			again, err := r.Next(ctx)
			require.NoError(t, err)
			assert.True(t, again.ExpireAt.Equal(c.Now().Add(DefaultTimeout)), "got %s", again.ExpireAt)
		})
	}
}

func TestKeysFor(t *testing.T) {
	keys := KeysFor("billing", "invoices")
	assert.Equal(t, Keys{
		Ready:     "billing:invoices",
		InFlight:  "billing:invoices:ack",
		Pending:   "billing:invoices:pending",
		Malformed: "billing:invoices:malformed",
	}, keys)
}
