package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// operationQueue holds writes that could not reach the primary backend.
// Enqueue order is preserved so operations for the same conversation id
// replay in causal order.
type operationQueue struct {
	mu  sync.Mutex
	ops []*PendingOperation
}

func newOperationQueue() *operationQueue {
	return &operationQueue{}
}

// Enqueue appends an operation, stamping its id and enqueue time.
func (q *operationQueue) Enqueue(op *PendingOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	q.ops = append(q.ops, op)
}

// Len returns the number of queued operations.
func (q *operationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot returns the queued operations in FIFO order. The slice is a copy;
// the operations themselves are shared, so callers must not mutate them.
func (q *operationQueue) Snapshot() []*PendingOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*PendingOperation(nil), q.ops...)
}

// Remove drops the operation with the given id, if still queued.
func (q *operationQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

// MarkAttempt increments the attempt counter for a queued operation.
func (q *operationQueue) MarkAttempt(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.ID == id {
			op.Attempts++
			return
		}
	}
}
