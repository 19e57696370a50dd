package rq

import (
	"bytes"
	"context"
	"sync"
	"time"
)

var _ Driver = (*InProcessDriver)(nil)

// InProcessDriver is a Driver backed by process memory. A single mutex makes every primitive atomic. It is
// only shared by queues of the same process and is lost on exit; use it for tests and local development.
type InProcessDriver struct {
	mu     sync.Mutex
	lists  map[string][][]byte
	hashes map[string]map[string][]byte
	// pushed is closed and replaced on every Push to wake blocked Transfer calls.
	pushed chan struct{}
}

// NewInProcessDriver creates an InProcessDriver.
func NewInProcessDriver() *InProcessDriver {
	return &InProcessDriver{
		lists:  make(map[string][][]byte),
		hashes: make(map[string]map[string][]byte),
		pushed: make(chan struct{}),
	}
}

// Push implements Driver.
func (d *InProcessDriver) Push(ctx context.Context, list string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lists[list] = append([][]byte{clone(value)}, d.lists[list]...)
	close(d.pushed)
	d.pushed = make(chan struct{})
	return nil
}

// Transfer implements Driver.
func (d *InProcessDriver) Transfer(ctx context.Context, src, dst string, timeout time.Duration) ([]byte, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		d.mu.Lock()
		if value, ok := d.transferLocked(src, dst); ok {
			d.mu.Unlock()
			return value, nil
		}
		pushed := d.pushed
		d.mu.Unlock()

		if deadline == nil {
			return nil, ErrEmpty
		}
		select {
		case <-pushed:
		case <-deadline:
			return nil, ErrEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *InProcessDriver) transferLocked(src, dst string) ([]byte, bool) {
	l := d.lists[src]
	if len(l) == 0 {
		return nil, false
	}
	value := l[len(l)-1]
	d.setList(src, l[:len(l)-1])
	d.lists[dst] = append([][]byte{value}, d.lists[dst]...)
	return clone(value), true
}

// Remove implements Driver.
func (d *InProcessDriver) Remove(ctx context.Context, list string, value []byte) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var (
		removed int64
		kept    [][]byte
	)
	for _, v := range d.lists[list] {
		if bytes.Equal(v, value) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	d.setList(list, kept)
	return removed, nil
}

// Range implements Driver.
func (d *InProcessDriver) Range(ctx context.Context, list string, start, stop int64) ([][]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.lists[list]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return [][]byte{}, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range l[start : stop+1] {
		out = append(out, clone(v))
	}
	return out, nil
}

// Len implements Driver.
func (d *InProcessDriver) Len(ctx context.Context, list string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.lists[list])), nil
}

// HashSet implements Driver.
func (d *InProcessDriver) HashSet(ctx context.Context, hash, field string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hash(hash)[field] = clone(value)
	return nil
}

// HashSetNX implements Driver.
func (d *InProcessDriver) HashSetNX(ctx context.Context, hash, field string, value []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.hash(hash)
	if _, ok := h[field]; ok {
		return false, nil
	}
	h[field] = clone(value)
	return true, nil
}

// HashGet implements Driver.
func (d *InProcessDriver) HashGet(ctx context.Context, hash, field string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.hashes[hash][field]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// HashDel implements Driver.
func (d *InProcessDriver) HashDel(ctx context.Context, hash, field string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.hashes[hash]; ok {
		delete(h, field)
		if len(h) == 0 {
			delete(d.hashes, hash)
		}
	}
	return nil
}

// HashLen implements Driver.
func (d *InProcessDriver) HashLen(ctx context.Context, hash string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.hashes[hash])), nil
}

// Del implements Driver.
func (d *InProcessDriver) Del(ctx context.Context, keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		delete(d.lists, k)
		delete(d.hashes, k)
	}
	return nil
}

func (d *InProcessDriver) setList(list string, l [][]byte) {
	if len(l) == 0 {
		delete(d.lists, list)
		return
	}
	d.lists[list] = l
}

func (d *InProcessDriver) hash(name string) map[string][]byte {
	h, ok := d.hashes[name]
	if !ok {
		h = make(map[string][]byte)
		d.hashes[name] = h
	}
	return h
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
