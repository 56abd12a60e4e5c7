package taskqueue

import (
	"context"
	"testing"
	"time"
)

func TestSubmitAndComplete(t *testing.T) {
	q := New(Options{Workers: 1})
	q.Start()
	defer q.Stop(context.Background())

	done := make(chan *Task, 1)
	q.Submit(func(ctx context.Context) (any, error) {
		return 42, nil
	}, WithCallback(func(tk *Task) { done <- tk }))

	select {
	case tk := <-done:
		if tk.GetStatus() != StatusCompleted || tk.Result != 42 {
			t.Fatalf("unexpected task result: %+v", tk)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task completion")
	}
}

func TestPriorityOrdering(t *testing.T) {
	q := New(Options{Workers: 0})
	q.Submit(func(context.Context) (any, error) { return nil, nil }, WithPriority(1))
	q.Submit(func(context.Context) (any, error) { return nil, nil }, WithPriority(5))
	q.Submit(func(context.Context) (any, error) { return nil, nil }, WithPriority(5))

	first := q.popForTypes(nil)
	second := q.popForTypes(nil)
	if first.Priority != 5 || second.Priority != 5 {
		t.Fatalf("expected two priority-5 tasks first, got %d then %d", first.Priority, second.Priority)
	}
	if first.seq > second.seq {
		t.Fatal("expected FIFO tie-break among equal priorities")
	}
}

func TestCancelOnlyFromPendingOrRetrying(t *testing.T) {
	q := New(Options{Workers: 0})
	id := q.Submit(func(context.Context) (any, error) { return nil, nil })
	if !q.Cancel(id) {
		t.Fatal("expected cancel to succeed for pending task")
	}
	status, _ := q.Status(id)
	if status != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", status)
	}
}

func TestRetryOnFailure(t *testing.T) {
	q := New(Options{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})
	q.Start()
	defer q.Stop(context.Background())

	attempts := 0
	done := make(chan *Task, 1)
	q.Submit(func(ctx context.Context) (any, error) {
		attempts++
		if attempts < 2 {
			return nil, context.DeadlineExceeded
		}
		return "ok", nil
	}, WithCallback(func(tk *Task) { done <- tk }))

	select {
	case tk := <-done:
		if tk.GetStatus() != StatusCompleted {
			t.Fatalf("expected eventual completion, got %s", tk.GetStatus())
		}
		if attempts < 2 {
			t.Fatalf("expected at least one retry, got %d attempts", attempts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retry completion")
	}
}
