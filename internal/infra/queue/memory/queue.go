// Package memory provides an in-process queue with the same head/tail
// semantics as the external backends. It is used by tests and local runs.
package memory

import (
	"context"
	"sync"

	"github.com/ahrav/fetch-relay/internal/domain/transfer"
)

var (
	_ transfer.Queue    = (*Queue)(nil)
	_ transfer.Producer = (*Queue)(nil)
)

// Queue is a FIFO of URLs guarded by a mutex.
type Queue struct {
	mu    sync.Mutex
	items []string
	pops  int
}

// New creates a queue preloaded with urls.
func New(urls ...string) *Queue {
	return &Queue{items: append([]string(nil), urls...)}
}

// PopBatch removes up to max items from the head.
func (q *Queue) PopBatch(_ context.Context, max int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pops++
	if max <= 0 || len(q.items) == 0 {
		return nil, nil
	}
	n := min(max, len(q.items))
	batch := make([]string, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch, nil
}

// Push appends urls to the tail.
func (q *Queue) Push(_ context.Context, urls ...string) error {
	q.mu.Lock()
	q.items = append(q.items, urls...)
	q.mu.Unlock()
	return nil
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pops returns how many times PopBatch has been called.
func (q *Queue) Pops() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pops
}
