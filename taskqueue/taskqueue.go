// Package taskqueue implements the priority task queue with a fixed-size
// worker pool of retrying consumers. Grounded on
// original_source/queue/task_queue.py's Task/Consumer/TaskQueue and
// O-tero-Distributed-Caching-System/warming/worker_pool.go's
// goroutine-per-worker shape.
package taskqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
	StatusCancelled Status = "CANCELLED"
)

// TaskFunc is the work a task performs. It receives a context that is
// cancelled when the queue is stopped, for cooperative cancellation at
// suspension points (replacing the original's force-mark-cancelled stop()).
type TaskFunc func(ctx context.Context) (any, error)

// Callback runs after a task reaches COMPLETED or FAILED; it is not
// called for a CANCELLED task.
type Callback func(t *Task)

// Task is a unit of work submitted to the queue.
type Task struct {
	ID         string
	Fn         TaskFunc
	Priority   int
	TypeTag    string
	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	CompletedAt time.Time
	RetryCount int
	MaxRetries int
	RetryDelay time.Duration
	Result     any
	Err        error
	Callback   Callback

	seq    uint64
	cancel context.CancelFunc

	mu sync.Mutex
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.Status = s
	t.mu.Unlock()
}

func (t *Task) GetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// TaskOption configures a submitted task.
type TaskOption func(*Task)

func WithPriority(p int) TaskOption     { return func(t *Task) { t.Priority = p } }
func WithType(tag string) TaskOption    { return func(t *Task) { t.TypeTag = tag } }
func WithMaxRetries(n int) TaskOption   { return func(t *Task) { t.MaxRetries = n } }
func WithRetryDelay(d time.Duration) TaskOption { return func(t *Task) { t.RetryDelay = d } }
func WithCallback(cb Callback) TaskOption { return func(t *Task) { t.Callback = cb } }

// priorityHeap orders by descending priority, ties broken by ascending
// sequence number (FIFO) — the explicit tie-break original_source's
// Task.__lt__ inversion relies on incidental heap behavior for.
type priorityHeap []*Task

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Options configures a Queue.
type Options struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// Queue is the priority task queue plus its worker pool.
type Queue struct {
	mu       sync.Mutex
	heap     priorityHeap
	notEmpty chan struct{}
	nextSeq  uint64

	tasks map[string]*Task

	workers    int
	maxRetries int
	retryDelay time.Duration

	acceptedTypes []string

	stopCh chan struct{}
	wg     sync.WaitGroup
	start  sync.Once
	stop   sync.Once
}

func New(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	q := &Queue{
		tasks:      make(map[string]*Task),
		notEmpty:   make(chan struct{}, 1),
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		stopCh:     make(chan struct{}),
	}
	heap.Init(&q.heap)
	return q
}

// Submit enqueues fn and returns its task ID.
func (q *Queue) Submit(fn TaskFunc, opts ...TaskOption) string {
	t := &Task{
		ID:         uuid.NewString(),
		Fn:         fn,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
		MaxRetries: q.maxRetries,
		RetryDelay: q.retryDelay,
		TypeTag:    "default",
	}
	for _, opt := range opts {
		opt(t)
	}
	q.mu.Lock()
	t.seq = q.nextSeq
	q.nextSeq++
	q.tasks[t.ID] = t
	heap.Push(&q.heap, t)
	q.mu.Unlock()
	q.signal()
	return t.ID
}

func (q *Queue) signal() {
	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
}

// popForTypes pops the highest-priority task whose TypeTag is in types,
// re-enqueuing any mismatched task it pops along the way (matching
// task_queue.py's get_task mismatch-requeue behavior).
func (q *Queue) popForTypes(types []string) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var skipped []*Task
	var found *Task
	for q.heap.Len() > 0 {
		t := heap.Pop(&q.heap).(*Task)
		if len(types) == 0 || contains(types, t.TypeTag) {
			found = t
			break
		}
		skipped = append(skipped, t)
	}
	for _, t := range skipped {
		heap.Push(&q.heap, t)
	}
	return found
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Start launches the worker pool. Idempotent.
func (q *Queue) Start() {
	q.start.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.runWorker(i)
		}
	})
}

func (q *Queue) runWorker(id int) {
	defer q.wg.Done()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.notEmpty:
		case <-ticker.C:
		}
		for {
			t := q.popForTypes(nil)
			if t == nil {
				break
			}
			q.process(t)
		}
	}
}

func (q *Queue) process(t *Task) {
	t.mu.Lock()
	if t.Status == StatusCancelled {
		t.mu.Unlock()
		return
	}
	t.Status = StatusRunning
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	defer cancel()
	go func() {
		select {
		case <-q.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	t.StartedAt = time.Now()

	result, err := t.Fn(ctx)
	t.CompletedAt = time.Now()

	if err != nil {
		t.Err = err
		if t.RetryCount < t.MaxRetries {
			t.RetryCount++
			t.setStatus(StatusRetrying)
			time.AfterFunc(t.RetryDelay, func() {
				if t.GetStatus() == StatusRetrying {
					q.mu.Lock()
					t.seq = q.nextSeq
					q.nextSeq++
					heap.Push(&q.heap, t)
					q.mu.Unlock()
					q.signal()
				}
			})
			return
		}
		t.setStatus(StatusFailed)
		if t.Callback != nil {
			t.Callback(t)
		}
		return
	}

	t.Result = result
	t.setStatus(StatusCompleted)
	if t.Callback != nil {
		t.Callback(t)
	}
}

// Status returns the current status of a task.
func (q *Queue) Status(id string) (Status, bool) {
	q.mu.Lock()
	t, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return "", false
	}
	return t.GetStatus(), true
}

// Cancel succeeds only when the task is PENDING or RETRYING, matching
// task_queue.py's cancel_task.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	q.mu.Unlock()
	if !ok {
		return false
	}
	status := t.GetStatus()
	if status != StatusPending && status != StatusRetrying {
		return false
	}
	t.setStatus(StatusCancelled)
	return true
}

// Depth returns the number of pending tasks awaiting a worker.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Stop signals all workers to exit and waits for in-flight tasks'
// suspension points to observe cancellation, then returns. A RUNNING
// task is not force-aborted; it keeps running until its TaskFunc
// observes ctx.Done(), per spec.md's cooperative-cancellation design.
func (q *Queue) Stop(ctx context.Context) {
	q.stop.Do(func() {
		close(q.stopCh)
	})
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
