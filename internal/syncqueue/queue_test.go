package syncqueue_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tally/internal/config"
	"tally/internal/logging"
	"tally/internal/syncqueue"
)

// memBlob is an in-memory BlobStore for queue tests that do not exercise
// real persistence.
type memBlob struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{data: make(map[string][]byte)}
}

func (m *memBlob) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *memBlob) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

// rawCodec stores snapshots uncompressed.
type rawCodec struct{}

func (rawCodec) Compress(data []byte) []byte { return data }

func (rawCodec) Decompress(data []byte) ([]byte, error) { return data, nil }

func newTestQueue(t *testing.T, registry *syncqueue.Registry, maxRetries int, opts ...syncqueue.Option) *syncqueue.Queue {
	t.Helper()
	cfg := config.Default()
	cfg.Sync.BaseRetryDelayMS = 1
	cfg.Sync.MaxRetryDelayMS = 4
	cfg.Sync.MaxRetries = maxRetries
	return syncqueue.New(&cfg, newMemBlob(), rawCodec{}, registry, logging.NewNop(), opts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// gateOp blocks execution until released so tests can observe the queue
// mid-drain.
type gateOp struct {
	started chan struct{}
	release chan struct{}
}

func newGate() *gateOp {
	return &gateOp{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (g *gateOp) factory(json.RawMessage) (syncqueue.Operation, error) {
	return syncqueue.OperationFunc(func(context.Context) error {
		g.started <- struct{}{}
		<-g.release
		return nil
	}), nil
}

func registerFail(t *testing.T, registry *syncqueue.Registry) {
	t.Helper()
	err := registry.Register("fail", func(json.RawMessage) (syncqueue.Operation, error) {
		return syncqueue.OperationFunc(func(context.Context) error {
			return errors.New("endpoint unreachable")
		}), nil
	})
	if err != nil {
		t.Fatalf("register fail op: %v", err)
	}
}

func TestEnqueuePostcondition(t *testing.T) {
	registry := syncqueue.NewRegistry()
	gate := newGate()
	if err := registry.Register("gate", gate.factory); err != nil {
		t.Fatalf("register: %v", err)
	}

	q := newTestQueue(t, registry, 5)

	// Occupy the execution slot so the second item stays pending.
	if _, err := q.Enqueue(context.Background(), "gate", nil, syncqueue.PriorityCritical, nil); err != nil {
		t.Fatalf("Enqueue gate: %v", err)
	}
	<-gate.started
	defer close(gate.release)

	meta := map[string]string{"worker": "W-17", "site": "warehouse-2"}
	id, err := q.Enqueue(context.Background(), "gate", nil, syncqueue.PriorityMedium, meta)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}

	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != syncqueue.StatusPending {
		t.Fatalf("expected pending, got %s", item.Status)
	}
	if item.Retries != 0 {
		t.Fatalf("expected zero retries, got %d", item.Retries)
	}
	if item.Priority != syncqueue.PriorityMedium {
		t.Fatalf("unexpected priority %s", item.Priority)
	}
	if item.Metadata["worker"] != "W-17" || item.Metadata["site"] != "warehouse-2" {
		t.Fatalf("metadata not preserved: %v", item.Metadata)
	}
	if item.NextRetryAt != nil {
		t.Fatal("pending item must not carry a retry deadline")
	}
	if item.CreatedAt.IsZero() || item.UpdatedAt.IsZero() {
		t.Fatal("timestamps must be set")
	}
}

func TestEnqueueRejectsUnknownKindAndBadPriority(t *testing.T) {
	registry := syncqueue.NewRegistry()
	q := newTestQueue(t, registry, 5)

	if _, err := q.Enqueue(context.Background(), "nope", nil, syncqueue.PriorityLow, nil); !errors.Is(err, syncqueue.ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}

	registerFail(t, registry)
	if _, err := q.Enqueue(context.Background(), "fail", nil, syncqueue.Priority(9), nil); err == nil {
		t.Fatal("expected error for invalid priority")
	}
}

func TestCriticalItemPreemptsOlderLowPriority(t *testing.T) {
	registry := syncqueue.NewRegistry()
	gate := newGate()
	if err := registry.Register("gate", gate.factory); err != nil {
		t.Fatalf("register: %v", err)
	}

	var mu sync.Mutex
	var order []string
	err := registry.Register("mark", func(payload json.RawMessage) (syncqueue.Operation, error) {
		var name string
		if err := json.Unmarshal(payload, &name); err != nil {
			return nil, err
		}
		return syncqueue.OperationFunc(func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}), nil
	})
	if err != nil {
		t.Fatalf("register mark: %v", err)
	}

	q := newTestQueue(t, registry, 5)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "gate", nil, syncqueue.PriorityCritical, nil); err != nil {
		t.Fatalf("Enqueue gate: %v", err)
	}
	<-gate.started

	// B is older but low priority; A arrives later at critical priority.
	if _, err := q.Enqueue(ctx, "mark", json.RawMessage(`"B"`), syncqueue.PriorityLow, nil); err != nil {
		t.Fatalf("Enqueue B: %v", err)
	}
	if _, err := q.Enqueue(ctx, "mark", json.RawMessage(`"A"`), syncqueue.PriorityCritical, nil); err != nil {
		t.Fatalf("Enqueue A: %v", err)
	}

	close(gate.release)
	waitFor(t, "both marks to run", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected A before B, got %v", order)
	}
}

func TestSingleFlight(t *testing.T) {
	registry := syncqueue.NewRegistry()
	var active, maxActive, executions atomic.Int32
	err := registry.Register("busy", func(json.RawMessage) (syncqueue.Operation, error) {
		return syncqueue.OperationFunc(func(context.Context) error {
			n := active.Add(1)
			for {
				prev := maxActive.Load()
				if n <= prev || maxActive.CompareAndSwap(prev, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
			executions.Add(1)
			return nil
		}), nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	q := newTestQueue(t, registry, 5)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(ctx, "busy", nil, syncqueue.PriorityMedium, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, "all executions", func() bool { return executions.Load() == 5 })
	if maxActive.Load() != 1 {
		t.Fatalf("single-flight violated: %d concurrent executions", maxActive.Load())
	}
}

func TestProcessIsNoOpWhileDraining(t *testing.T) {
	registry := syncqueue.NewRegistry()
	gate := newGate()
	if err := registry.Register("gate", gate.factory); err != nil {
		t.Fatalf("register: %v", err)
	}

	q := newTestQueue(t, registry, 5)
	if _, err := q.Enqueue(context.Background(), "gate", nil, syncqueue.PriorityHigh, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-gate.started

	if q.Process() {
		t.Fatal("Process must be a no-op while a drain is in flight")
	}
	if !q.IsProcessing() {
		t.Fatal("expected processing flag while the gate holds the slot")
	}

	close(gate.release)
	waitFor(t, "drain to finish", func() bool { return !q.IsProcessing() })
}

func TestAlwaysFailingOperationExhaustsRetries(t *testing.T) {
	registry := syncqueue.NewRegistry()
	registerFail(t, registry)

	q := newTestQueue(t, registry, 5, syncqueue.WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	id, err := q.Enqueue(ctx, "fail", nil, syncqueue.PriorityCritical, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, "item to fail permanently", func() bool {
		return q.Status().Failed == 1
	})

	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != syncqueue.StatusFailed {
		t.Fatalf("expected failed, got %s", item.Status)
	}
	if item.Retries != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", item.Retries)
	}
	if item.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
	if item.NextRetryAt != nil {
		t.Fatal("failed item must not schedule a retry")
	}
}

func TestRetryFailedResetsAndDrains(t *testing.T) {
	registry := syncqueue.NewRegistry()
	registerFail(t, registry)

	// MaxRetries 1 parks items as failed on the first failure.
	q := newTestQueue(t, registry, 1)
	ctx := context.Background()

	var mu sync.Mutex
	sawReset := false
	q.Subscribe(func(status syncqueue.QueueStatus, _ []syncqueue.Item) {
		mu.Lock()
		if status.Pending >= 3 {
			sawReset = true
		}
		mu.Unlock()
	})

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, "fail", nil, syncqueue.PriorityMedium, map[string]string{"n": fmt.Sprint(i)}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitFor(t, "three failed items", func() bool { return q.Status().Failed == 3 })

	mu.Lock()
	sawReset = false
	mu.Unlock()

	if reset := q.RetryFailed(ctx); reset != 3 {
		t.Fatalf("expected 3 items reset, got %d", reset)
	}

	waitFor(t, "items to fail again", func() bool { return q.Status().Failed == 3 })
	mu.Lock()
	if !sawReset {
		mu.Unlock()
		t.Fatal("expected a notification with all items pending after reset")
	}
	mu.Unlock()

	for _, item := range q.Items() {
		if item.Retries != 1 {
			t.Fatalf("expected retries restarted from zero, got %d", item.Retries)
		}
	}
}

func TestRemoveRejectsInProgress(t *testing.T) {
	registry := syncqueue.NewRegistry()
	gate := newGate()
	if err := registry.Register("gate", gate.factory); err != nil {
		t.Fatalf("register: %v", err)
	}

	q := newTestQueue(t, registry, 5)
	id, err := q.Enqueue(context.Background(), "gate", nil, syncqueue.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-gate.started

	if err := q.Remove(context.Background(), id); !errors.Is(err, syncqueue.ErrItemInProgress) {
		t.Fatalf("expected ErrItemInProgress, got %v", err)
	}

	close(gate.release)
	waitFor(t, "item to complete", func() bool { return q.Status().Total == 0 })

	if err := q.Remove(context.Background(), id); !errors.Is(err, syncqueue.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound after completion, got %v", err)
	}
}

func TestProcessItemExecutesOutOfBand(t *testing.T) {
	registry := syncqueue.NewRegistry()
	registerFail(t, registry)

	q := newTestQueue(t, registry, 1)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "fail", nil, syncqueue.PriorityLow, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "item to fail", func() bool { return q.Status().Failed == 1 })

	// Failed items are not eligible for the scheduler, but an explicit
	// out-of-band execution still runs the full state machine.
	if err := q.ProcessItem(ctx, id); err != nil {
		t.Fatalf("ProcessItem: %v", err)
	}
	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != syncqueue.StatusFailed || item.Retries != 2 {
		t.Fatalf("expected a second counted failure, got %s/%d", item.Status, item.Retries)
	}

	if err := q.ProcessItem(ctx, "missing"); !errors.Is(err, syncqueue.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestProcessItemRejectedWhileDraining(t *testing.T) {
	registry := syncqueue.NewRegistry()
	gate := newGate()
	if err := registry.Register("gate", gate.factory); err != nil {
		t.Fatalf("register: %v", err)
	}

	q := newTestQueue(t, registry, 5)
	id, err := q.Enqueue(context.Background(), "gate", nil, syncqueue.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-gate.started
	defer close(gate.release)

	if err := q.ProcessItem(context.Background(), id); !errors.Is(err, syncqueue.ErrQueueBusy) {
		t.Fatalf("expected ErrQueueBusy, got %v", err)
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	registry := syncqueue.NewRegistry()
	registerFail(t, registry)

	q := newTestQueue(t, registry, 1)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := q.Enqueue(ctx, "fail", nil, syncqueue.PriorityBackground, nil); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitFor(t, "items parked as failed", func() bool { return q.Status().Failed == 4 })

	if removed := q.Clear(ctx); removed != 4 {
		t.Fatalf("expected 4 removed, got %d", removed)
	}
	if status := q.Status(); status.Total != 0 {
		t.Fatalf("expected empty queue, got %+v", status)
	}
}

func TestListenerPanicIsIsolated(t *testing.T) {
	registry := syncqueue.NewRegistry()
	registerFail(t, registry)

	q := newTestQueue(t, registry, 1)

	var notified atomic.Int32
	q.Subscribe(func(syncqueue.QueueStatus, []syncqueue.Item) {
		panic("bad listener")
	})
	handle := q.Subscribe(func(syncqueue.QueueStatus, []syncqueue.Item) {
		notified.Add(1)
	})

	if _, err := q.Enqueue(context.Background(), "fail", nil, syncqueue.PriorityMedium, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "surviving listener to fire", func() bool { return notified.Load() > 0 })

	q.Unsubscribe(handle)
	before := notified.Load()
	q.Clear(context.Background())
	if notified.Load() != before {
		t.Fatal("unsubscribed listener must not be invoked")
	}
}

func TestOperationTimeoutForcesFailure(t *testing.T) {
	registry := syncqueue.NewRegistry()
	err := registry.Register("hang", func(json.RawMessage) (syncqueue.Operation, error) {
		return syncqueue.OperationFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	cfg := config.Default()
	cfg.Sync.BaseRetryDelayMS = 1
	cfg.Sync.MaxRetryDelayMS = 4
	cfg.Sync.MaxRetries = 1
	cfg.Sync.OperationTimeout = 1
	q := syncqueue.New(&cfg, newMemBlob(), rawCodec{}, registry, logging.NewNop())

	id, err := q.Enqueue(context.Background(), "hang", nil, syncqueue.PriorityCritical, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitFor(t, "hang to time out", func() bool { return q.Status().Failed == 1 })

	item, err := q.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.LastError == "" {
		t.Fatal("expected timeout recorded in last error")
	}
}
