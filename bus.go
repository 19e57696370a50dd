package rq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"golang.org/x/sync/errgroup"
)

// ConsumeFunc processes the messages of one worker. It should return when ctx is done.
type ConsumeFunc func(ctx context.Context, messages *Receiver) error

// SendResult is the outcome of Bus.SendAsync.
type SendResult struct {
	ID  string
	Err error
}

type consumerGroup struct {
	name    string
	workers int
	run     func(ctx context.Context) error
}

// Bus ties a queue to its consumer groups and its reclaimer. It is the usual entry point for producers and
// consumers.
type Bus struct {
	queue                    *Queue
	reclaimer                *Reclaimer
	logger                   log.Logger
	queueLengthGauge         metrics.Gauge
	checkQueueLengthInterval time.Duration

	mu     sync.Mutex
	groups []consumerGroup
}

// UseReclaimer is an option for NewBus that replaces the default reclaimer.
func UseReclaimer(reclaimer *Reclaimer) func(*Bus) {
	return func(b *Bus) {
		b.reclaimer = reclaimer
	}
}

// UseGauge is an option for NewBus that reports the queue length to gauge every interval. The gauge is
// labelled with "region" set to ready, inflight, pending or malformed. A non-positive interval means 15s.
func UseGauge(gauge metrics.Gauge, interval time.Duration) func(*Bus) {
	return func(b *Bus) {
		b.queueLengthGauge = gauge
		b.checkQueueLengthInterval = interval
	}
}

// NewBus creates a Bus on queue.
func NewBus(queue *Queue, opts ...func(*Bus)) *Bus {
	b := Bus{
		queue:  queue,
		logger: queue.logger,
	}
	for _, f := range opts {
		f(&b)
	}
	if b.reclaimer == nil {
		b.reclaimer = NewReclaimer(queue)
	}
	if b.checkQueueLengthInterval <= 0 {
		b.checkQueueLengthInterval = 15 * time.Second
	}
	return &b
}

// Queue returns the underlying queue.
func (b *Bus) Queue() *Queue {
	return b.queue
}

// Reclaimer returns the reclaimer started by Run.
func (b *Bus) Reclaimer() *Reclaimer {
	return b.reclaimer
}

// Send enqueues payload and returns the message id. See Queue.Send.
func (b *Bus) Send(ctx context.Context, payload interface{}, timeout time.Duration) (string, error) {
	return b.queue.Send(ctx, payload, timeout)
}

// SendAsync enqueues payload in the background. The returned channel yields exactly one result.
func (b *Bus) SendAsync(ctx context.Context, payload interface{}, timeout time.Duration) <-chan SendResult {
	result := make(chan SendResult, 1)
	go func() {
		id, err := b.queue.Send(ctx, payload, timeout)
		result <- SendResult{ID: id, Err: err}
	}()
	return result
}

// Consume returns a Receiver for one worker of the named consumer.
func (b *Bus) Consume(consumer, worker string) *Receiver {
	r := b.queue.Receive(worker)
	r.logger = log.With(r.logger, "consumer", consumer)
	return r
}

// Consumer wraps f so that calling the result runs workers copies of f concurrently, each with its own
// Receiver, and waits for all of them. Workers are not assigned any share of the queue; they compete for
// messages. The first worker error cancels the others and is returned.
func (b *Bus) Consumer(name string, workers int, f ConsumeFunc) func(ctx context.Context) error {
	if workers < 1 {
		workers = 1
	}
	return func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			receiver := b.Consume(name, fmt.Sprintf("%d", i))
			g.Go(func() error {
				return f(ctx, receiver)
			})
		}
		return g.Wait()
	}
}

// Register adds a consumer group to be started by Run.
func (b *Bus) Register(name string, workers int, f ConsumeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups = append(b.groups, consumerGroup{
		name:    name,
		workers: workers,
		run:     b.Consumer(name, workers, f),
	})
}

// Run starts the reclaimer, the registered consumer groups and the queue length gauge, and blocks until ctx
// is done or one of them fails. Every goroutine has returned when Run returns.
func (b *Bus) Run(ctx context.Context) error {
	b.mu.Lock()
	groups := make([]consumerGroup, len(b.groups))
	copy(groups, b.groups)
	b.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.reclaimer.Run(ctx)
	})
	for _, group := range groups {
		group := group
		_ = level.Info(b.logger).Log("msg", "starting consumer", "consumer", group.name, "workers", group.workers)
		g.Go(func() error {
			return group.run(ctx)
		})
	}
	if b.queueLengthGauge != nil {
		g.Go(func() error {
			ticker := time.NewTicker(b.checkQueueLengthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					b.gauge(ctx)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	return g.Wait()
}

func (b *Bus) gauge(ctx context.Context) {
	info, err := b.queue.Info(ctx)
	if err != nil {
		_ = level.Warn(b.logger).Log("err", err)
		return
	}
	b.queueLengthGauge.With("region", "ready").Set(float64(info.Ready))
	b.queueLengthGauge.With("region", "inflight").Set(float64(info.InFlight))
	b.queueLengthGauge.With("region", "malformed").Set(float64(info.Malformed))
	b.queueLengthGauge.With("region", "pending").Set(float64(info.Pending))
}
