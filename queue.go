package rq

import (
	"context"
	"time"

	"github.com/DoNewsCode/core/contract"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultPollInterval is how long a receiver waits after finding the ready list empty.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultTimeout is the acknowledgement deadline of a message sent with a zero timeout.
	DefaultTimeout = 5 * time.Minute
)

// Queue is one (service, name) queue on a Driver. It holds no lock and no shared in-memory state, so any
// number of Queue values in any number of processes may serve the same keys concurrently.
type Queue struct {
	service        string
	name           string
	keys           Keys
	driver         Driver
	codec          contract.Codec
	logger         log.Logger
	pollInterval   time.Duration
	popTimeout     time.Duration
	defaultTimeout time.Duration
	now            func() time.Time
}

// UseLogger is an option for NewQueue that feeds the queue with a Logger of choice.
func UseLogger(logger log.Logger) func(*Queue) {
	return func(q *Queue) {
		q.logger = logger
	}
}

// UseCodec is an option for NewQueue that replaces the JSON payload codec. The codec must produce JSON.
func UseCodec(codec contract.Codec) func(*Queue) {
	return func(q *Queue) {
		q.codec = codec
	}
}

// UsePollInterval is an option for NewQueue that sets how long receivers wait on an empty ready list.
func UsePollInterval(interval time.Duration) func(*Queue) {
	return func(q *Queue) {
		q.pollInterval = interval
	}
}

// UsePopTimeout is an option for NewQueue. A positive value makes receivers block on the store for up to
// timeout instead of polling. Leave it zero for stores without a blocking transfer.
func UsePopTimeout(timeout time.Duration) func(*Queue) {
	return func(q *Queue) {
		q.popTimeout = timeout
	}
}

// UseDefaultTimeout is an option for NewQueue that sets the deadline of messages sent with a zero timeout.
func UseDefaultTimeout(timeout time.Duration) func(*Queue) {
	return func(q *Queue) {
		q.defaultTimeout = timeout
	}
}

// NewQueue returns the queue called name owned by service.
func NewQueue(driver Driver, service, name string, opts ...func(*Queue)) *Queue {
	q := Queue{
		service:        service,
		name:           name,
		keys:           KeysFor(service, name),
		driver:         driver,
		codec:          jsonCodec{},
		logger:         log.NewNopLogger(),
		pollInterval:   DefaultPollInterval,
		defaultTimeout: DefaultTimeout,
		now:            time.Now,
	}
	for _, f := range opts {
		f(&q)
	}
	q.logger = log.With(q.logger, "queue", q.keys.Ready)
	return &q
}

// Service returns the service owning the queue.
func (q *Queue) Service() string {
	return q.service
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Keys returns the store keys of the queue.
func (q *Queue) Keys() Keys {
	return q.keys
}

// Driver returns the underlying driver.
func (q *Queue) Driver() Driver {
	return q.driver
}

// Send enqueues payload and returns the id of the new message. The message must be acknowledged within
// timeout of being sent, or it is delivered again. A zero timeout means the queue's default.
func (q *Queue) Send(ctx context.Context, payload interface{}, timeout time.Duration) (string, error) {
	if timeout < 0 {
		return "", ErrInvalidTimeout
	}
	if timeout == 0 {
		timeout = q.defaultTimeout
	}
	data, err := q.codec.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode payload")
	}
	msg := &Message{
		ID:       uuid.New().String(),
		Data:     data,
		Queue:    q.keys.Ready,
		ExpireAt: q.now().Add(timeout).UTC(),
	}
	b, err := msg.Marshal()
	if err != nil {
		return "", err
	}
	if err := q.driver.HashSet(ctx, q.keys.Pending, msg.ID, b); err != nil {
		return "", errors.Wrapf(err, "send %s", msg.ID)
	}
	if err := q.driver.Push(ctx, q.keys.Ready, b); err != nil {
		return "", errors.Wrapf(err, "send %s", msg.ID)
	}
	_ = level.Debug(q.logger).Log("msg", "sent", "id", msg.ID, "expireAt", msg.ExpireAt)
	return msg.ID, nil
}

// Receive returns a Receiver that hands out messages of this queue. worker labels the log lines.
func (q *Queue) Receive(worker string) *Receiver {
	return &Receiver{
		queue:  q,
		logger: log.With(q.logger, "worker", worker),
	}
}

// pickup moves one message from the ready list to the in-flight list. It returns ErrEmpty when there is
// nothing to move.
func (q *Queue) pickup(ctx context.Context) (*Message, error) {
	raw, err := q.driver.Transfer(ctx, q.keys.Ready, q.keys.InFlight, q.popTimeout)
	if err != nil {
		return nil, err
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		if qerr := q.quarantine(ctx, raw); qerr != nil {
			_ = level.Warn(q.logger).Log("msg", "failed to move malformed entry", "err", qerr)
		}
		return nil, err
	}
	created, err := q.driver.HashSetNX(ctx, q.keys.Pending, msg.ID, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "register %s", msg.ID)
	}
	if !created {
		current, err := q.driver.HashGet(ctx, q.keys.Pending, msg.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			// acknowledged between the two calls; deliver what was transferred
		case err != nil:
			return nil, errors.Wrapf(err, "lookup %s", msg.ID)
		default:
			latest, err := ParseMessage(current)
			if err != nil {
				_ = level.Warn(q.logger).Log("msg", "replacing malformed pending entry", "id", msg.ID, "err", err)
				if err := q.driver.HashSet(ctx, q.keys.Pending, msg.ID, raw); err != nil {
					return nil, errors.Wrapf(err, "register %s", msg.ID)
				}
				break
			}
			msg = latest
		}
	}
	msg.raw = raw
	msg.owner = q
	return msg, nil
}

// Ack acknowledges msg: it is removed from the in-flight list and the pending hash and will not be
// delivered again. Acknowledging a message that was already reclaimed or acknowledged is not an error.
func (q *Queue) Ack(ctx context.Context, msg *Message) error {
	entries, err := msg.entries()
	if err != nil {
		return err
	}
	var removed int64
	for _, entry := range entries {
		n, err := q.driver.Remove(ctx, q.keys.InFlight, entry)
		if err != nil {
			return errors.Wrapf(err, "ack %s", msg.ID)
		}
		removed += n
	}
	if err := q.driver.HashDel(ctx, q.keys.Pending, msg.ID); err != nil {
		return errors.Wrapf(err, "ack %s", msg.ID)
	}
	if removed == 0 {
		_ = level.Debug(q.logger).Log("msg", "ack found nothing in flight", "id", msg.ID)
	}
	return nil
}

// Info returns the current size of the queue.
func (q *Queue) Info(ctx context.Context) (QueueInfo, error) {
	var (
		info QueueInfo
		err  error
	)
	if info.Ready, err = q.driver.Len(ctx, q.keys.Ready); err != nil {
		return info, err
	}
	if info.InFlight, err = q.driver.Len(ctx, q.keys.InFlight); err != nil {
		return info, err
	}
	if info.Pending, err = q.driver.HashLen(ctx, q.keys.Pending); err != nil {
		return info, err
	}
	if info.Malformed, err = q.driver.Len(ctx, q.keys.Malformed); err != nil {
		return info, err
	}
	return info, nil
}

// Reload moves every in-flight message back to the ready list regardless of its deadline and returns how
// many were moved. Each deadline becomes now plus the queue's default timeout, unless the current one is
// later. Messages still being processed will be delivered twice. Malformed entries are moved to the
// malformed list.
func (q *Queue) Reload(ctx context.Context) (int64, error) {
	entries, err := q.driver.Range(ctx, q.keys.InFlight, 0, -1)
	if err != nil {
		return 0, errors.Wrap(err, "reload")
	}
	var moved int64
	for _, raw := range entries {
		msg, err := ParseMessage(raw)
		if err != nil {
			_ = level.Error(q.logger).Log("msg", "reload found a malformed entry", "err", err)
			if err := q.quarantine(ctx, raw); err != nil {
				return moved, errors.Wrap(err, "reload")
			}
			continue
		}
		next := q.now().Add(q.defaultTimeout)
		if msg.ExpireAt.After(next) {
			next = msg.ExpireAt
		}
		ok, err := q.requeue(ctx, raw, msg.extend(next))
		if err != nil {
			return moved, errors.Wrap(err, "reload")
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

// requeue removes the in-flight entry raw and, only if this call removed it, records next in the pending
// hash and pushes it onto the head of the ready list. Losing the removal to an ack or another requeue
// returns false and changes nothing.
func (q *Queue) requeue(ctx context.Context, raw []byte, next *Message) (bool, error) {
	b, err := next.Marshal()
	if err != nil {
		return false, err
	}
	n, err := q.driver.Remove(ctx, q.keys.InFlight, raw)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := q.driver.HashSet(ctx, q.keys.Pending, next.ID, b); err != nil {
		return false, err
	}
	if err := q.driver.Push(ctx, q.keys.Ready, b); err != nil {
		return false, err
	}
	return true, nil
}

// quarantine moves the undecodable entry raw from the in-flight list to the malformed list, so it no
// longer occupies the tail the reclaimer scans. It is a no-op if raw is no longer in flight.
func (q *Queue) quarantine(ctx context.Context, raw []byte) error {
	n, err := q.driver.Remove(ctx, q.keys.InFlight, raw)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return q.driver.Push(ctx, q.keys.Malformed, raw)
}

// Flush deletes every key of the queue.
func (q *Queue) Flush(ctx context.Context) error {
	return q.driver.Del(ctx, q.keys.Ready, q.keys.InFlight, q.keys.Pending, q.keys.Malformed)
}
