package rq

import (
	"context"
	"time"
)

// Driver is the set of atomic list and hash primitives a queue is built on. Every method must be a single
// atomic operation visible to all clients of the store. Queues never lock; correctness rests on these
// primitives alone, so several processes may share a store.
type Driver interface {
	// Push inserts value at the head of list.
	Push(ctx context.Context, list string, value []byte) error
	// Transfer atomically pops the tail of src and pushes it onto the head of dst, returning the element.
	// If timeout is positive the call may block up to timeout waiting for an element. ErrEmpty is returned
	// when nothing was transferred.
	Transfer(ctx context.Context, src, dst string, timeout time.Duration) ([]byte, error)
	// Remove deletes every element of list equal to value and returns how many were removed.
	Remove(ctx context.Context, list string, value []byte) (int64, error)
	// Range returns the elements between start and stop inclusive. Negative indexes count from the tail.
	Range(ctx context.Context, list string, start, stop int64) ([][]byte, error)
	// Len returns the length of list.
	Len(ctx context.Context, list string) (int64, error)
	// HashSet sets field in hash to value.
	HashSet(ctx context.Context, hash, field string, value []byte) error
	// HashSetNX sets field only if it does not exist, reporting whether it was set.
	HashSetNX(ctx context.Context, hash, field string, value []byte) (bool, error)
	// HashGet returns the value of field, or ErrNotFound.
	HashGet(ctx context.Context, hash, field string) ([]byte, error)
	// HashDel deletes field from hash.
	HashDel(ctx context.Context, hash, field string) error
	// HashLen returns the number of fields in hash.
	HashLen(ctx context.Context, hash string) (int64, error)
	// Del deletes the given keys.
	Del(ctx context.Context, keys ...string) error
}
