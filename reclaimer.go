package rq

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/pkg/errors"
)

const (
	// DefaultReclaimInterval is the pause between scans that reclaimed nothing.
	DefaultReclaimInterval = 5 * time.Second
	// DefaultActiveReclaimInterval is the pause after a scan that reclaimed at least one message.
	DefaultActiveReclaimInterval = 10 * time.Second
	// DefaultReclaimIncrement is how far past the scan time a reclaimed message's deadline is pushed.
	DefaultReclaimIncrement = 5 * time.Minute
	// DefaultScanWindow is how many entries at the tail of the in-flight list each scan inspects.
	DefaultScanWindow = 2
)

// Reclaimer returns abandoned messages to the ready list. Claimed messages are pushed onto the head of the
// in-flight list, so its tail holds the ones claimed longest ago; each scan inspects only that tail.
// Any number of reclaimers may watch the same queue.
type Reclaimer struct {
	queue          *Queue
	logger         log.Logger
	interval       time.Duration
	activeInterval time.Duration
	increment      time.Duration
	window         int64
	counter        metrics.Counter
}

// ReclaimEvery is an option for NewReclaimer. interval is the pause after a scan that reclaimed nothing,
// active the pause after one that did.
func ReclaimEvery(interval, active time.Duration) func(*Reclaimer) {
	return func(r *Reclaimer) {
		r.interval = interval
		r.activeInterval = active
	}
}

// ExtendBy is an option for NewReclaimer that sets how far past the scan time a reclaimed message's
// deadline is pushed.
func ExtendBy(increment time.Duration) func(*Reclaimer) {
	return func(r *Reclaimer) {
		r.increment = increment
	}
}

// ScanWindow is an option for NewReclaimer that sets how many tail entries each scan inspects. The default
// of 2 may let an old abandoned entry wait behind newer ones under heavy concurrency; widen it if that
// matters.
func ScanWindow(n int) func(*Reclaimer) {
	return func(r *Reclaimer) {
		if n > 0 {
			r.window = int64(n)
		}
	}
}

// ReclaimCounter is an option for NewReclaimer that counts reclaimed messages.
func ReclaimCounter(counter metrics.Counter) func(*Reclaimer) {
	return func(r *Reclaimer) {
		r.counter = counter
	}
}

// NewReclaimer creates a Reclaimer for queue.
func NewReclaimer(queue *Queue, opts ...func(*Reclaimer)) *Reclaimer {
	r := Reclaimer{
		queue:          queue,
		logger:         log.With(queue.logger, "component", "reclaimer"),
		interval:       DefaultReclaimInterval,
		activeInterval: DefaultActiveReclaimInterval,
		increment:      DefaultReclaimIncrement,
		window:         DefaultScanWindow,
	}
	for _, f := range opts {
		f(&r)
	}
	return &r
}

// Scan runs one reclaim cycle and returns the number of messages it moved back to the ready list. An
// expired entry is only requeued if this scan is the one that removed it from the in-flight list; losing that
// race to an ack or another reclaimer is silent. Malformed entries are logged and moved to the malformed
// list.
func (r *Reclaimer) Scan(ctx context.Context) (int, error) {
	keys := r.queue.keys
	total, err := r.queue.driver.Len(ctx, keys.InFlight)
	if err != nil {
		return 0, errors.Wrap(err, "reclaim scan")
	}
	if total == 0 {
		return 0, nil
	}
	tail, err := r.queue.driver.Range(ctx, keys.InFlight, -r.window, -1)
	if err != nil {
		return 0, errors.Wrap(err, "reclaim scan")
	}

	now := r.queue.now()
	reclaimed := 0
	for _, raw := range tail {
		msg, err := ParseMessage(raw)
		if err != nil {
			_ = level.Error(r.logger).Log("msg", "malformed in-flight entry", "err", err)
			if err := r.queue.quarantine(ctx, raw); err != nil {
				return reclaimed, errors.Wrap(err, "reclaim scan")
			}
			continue
		}
		if !msg.IsExpired(now) {
			continue
		}
		ok, err := r.queue.requeue(ctx, raw, msg.extend(now.Add(r.increment)))
		if err != nil {
			return reclaimed, errors.Wrapf(err, "reclaim %s", msg.ID)
		}
		if !ok {
			_ = level.Debug(r.logger).Log("msg", "lost reclaim race", "id", msg.ID)
			continue
		}
		reclaimed++
		if r.counter != nil {
			r.counter.Add(1)
		}
		_ = level.Info(r.logger).Log("msg", "reclaimed", "id", msg.ID, "expiredAt", msg.ExpireAt)
	}
	_ = level.Debug(r.logger).Log("msg", "scan finished", "inFlight", total, "reclaimed", reclaimed)
	return reclaimed, nil
}

// Run scans repeatedly until ctx is done. A failed scan is logged and retried on the next tick.
func (r *Reclaimer) Run(ctx context.Context) error {
	for {
		n, err := r.Scan(ctx)
		if err != nil && ctx.Err() == nil {
			_ = level.Warn(r.logger).Log("msg", "reclaim scan failed", "err", err)
		}
		interval := r.interval
		if n > 0 {
			interval = r.activeInterval
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}
