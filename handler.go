package rq

import (
	"context"

	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

// HandleFunc turns a per-message callback into a ConsumeFunc. A message is acknowledged when handle returns
// nil. When handle fails the message is left in flight and is delivered again once its deadline passes.
// Store errors and malformed entries are logged and the worker keeps going; it stops when ctx is done.
func HandleFunc(handle func(ctx context.Context, msg *Message) error) ConsumeFunc {
	return func(ctx context.Context, messages *Receiver) error {
		for {
			msg, err := messages.Next(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrMalformed) {
				continue
			}
			if err != nil {
				_ = level.Warn(messages.logger).Log("msg", "receive failed", "err", err)
				if err := sleep(ctx, messages.queue.pollInterval); err != nil {
					return err
				}
				continue
			}
			if err := handle(ctx, msg); err != nil {
				_ = level.Warn(messages.logger).Log("msg", "handler failed, awaiting redelivery", "id", msg.ID, "err", err)
				continue
			}
			if err := msg.Ack(ctx); err != nil {
				_ = level.Warn(messages.logger).Log("msg", "ack failed", "id", msg.ID, "err", err)
			}
		}
	}
}
