package rq

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// Receiver is an unbounded pull iterator over the messages of a queue. Each call to Next claims one
// message by atomically moving it to the in-flight list. Receivers are cheap; any number of them, in any
// number of processes, may pull from the same queue. A Receiver itself is not safe for concurrent use.
type Receiver struct {
	queue  *Queue
	logger log.Logger
}

// Next blocks until a message is claimed or ctx is done. The returned message stays in flight until it is
// acknowledged or its deadline passes. A malformed stored entry is returned as a *MalformedError, and store
// failures are returned as is; in both cases the receiver remains usable.
func (r *Receiver) Next(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := r.queue.pickup(ctx)
		if err == nil {
			_ = level.Debug(r.logger).Log("msg", "received", "id", msg.ID, "expireAt", msg.ExpireAt)
			return msg, nil
		}
		if !errors.Is(err, ErrEmpty) {
			if errors.Is(err, ErrMalformed) {
				_ = level.Error(r.logger).Log("msg", "claimed a malformed message", "err", err)
			}
			return nil, err
		}
		if r.queue.popTimeout > 0 {
			continue
		}
		if err := sleep(ctx, r.queue.pollInterval); err != nil {
			return nil, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
