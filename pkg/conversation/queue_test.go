package conversation

import (
	"testing"
)

func TestOperationQueue_FIFO(t *testing.T) {
	q := newOperationQueue()

	for _, id := range []string{"a", "b", "c"} {
		q.Enqueue(&PendingOperation{Kind: OpSaveConversation, ConversationID: id})
	}

	ops := q.Snapshot()
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	for i, want := range []string{"a", "b", "c"} {
		if ops[i].ConversationID != want {
			t.Errorf("ops[%d] = %s, want %s", i, ops[i].ConversationID, want)
		}
	}
}

func TestOperationQueue_EnqueueStampsIdentity(t *testing.T) {
	q := newOperationQueue()

	op := &PendingOperation{Kind: OpDeleteConversation, ConversationID: "c"}
	q.Enqueue(op)

	if op.ID == "" {
		t.Error("expected enqueue to assign an id")
	}
	if op.EnqueuedAt.IsZero() {
		t.Error("expected enqueue to stamp EnqueuedAt")
	}
}

func TestOperationQueue_Remove(t *testing.T) {
	q := newOperationQueue()

	q.Enqueue(&PendingOperation{ConversationID: "a"})
	middle := &PendingOperation{ConversationID: "b"}
	q.Enqueue(middle)
	q.Enqueue(&PendingOperation{ConversationID: "c"})

	q.Remove(middle.ID)

	ops := q.Snapshot()
	if len(ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(ops))
	}
	if ops[0].ConversationID != "a" || ops[1].ConversationID != "c" {
		t.Errorf("unexpected order after remove: %s, %s", ops[0].ConversationID, ops[1].ConversationID)
	}

	// Removing an unknown id is a no-op.
	q.Remove("nope")
	if q.Len() != 2 {
		t.Errorf("expected len 2, got %d", q.Len())
	}
}

func TestOperationQueue_MarkAttempt(t *testing.T) {
	q := newOperationQueue()

	op := &PendingOperation{ConversationID: "a"}
	q.Enqueue(op)

	q.MarkAttempt(op.ID)
	q.MarkAttempt(op.ID)

	if got := q.Snapshot()[0].Attempts; got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}
