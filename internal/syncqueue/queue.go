package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/config"
	"tally/internal/logging"
)

// Queue is the synchronization queue: a single-consumer, priority-ordered
// collection of deferred operations with bounded retry backoff, whole-snapshot
// persistence, and listener fan-out. All exported methods are safe for
// concurrent use; at most one operation executes at any instant.
type Queue struct {
	policy    RetryPolicy
	registry  *Registry
	store     *snapshotStore
	hub       *hub
	logger    *slog.Logger
	opTimeout time.Duration
	autosave  time.Duration
	poll      time.Duration
	now       func() time.Time

	mu         sync.Mutex
	items      []*Item
	processing bool

	runCtx context.Context
	wg     sync.WaitGroup
}

// Option configures optional Queue behavior.
type Option func(*Queue)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithRetryPolicy overrides the config-derived retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(q *Queue) { q.policy = policy }
}

// WithPollInterval overrides how often Run checks for newly eligible retry
// items.
func WithPollInterval(interval time.Duration) Option {
	return func(q *Queue) { q.poll = interval }
}

// New constructs a queue, loading any persisted snapshot through the blob
// store and codec collaborators. Items persisted mid-execution resume as
// pending; items whose operation kind is no longer registered are parked as
// failed rather than silently dropped.
func New(cfg *config.Config, blobs BlobStore, comp Compressor, registry *Registry, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	q := &Queue{
		policy: NewRetryPolicy(
			time.Duration(cfg.Sync.BaseRetryDelayMS)*time.Millisecond,
			time.Duration(cfg.Sync.MaxRetryDelayMS)*time.Millisecond,
			cfg.Sync.MaxRetries,
		),
		registry:  registry,
		store:     newSnapshotStore(blobs, comp, logger),
		hub:       newHub(logger),
		logger:    logging.WithComponent(logger, "syncqueue"),
		opTimeout: time.Duration(cfg.Sync.OperationTimeout) * time.Second,
		autosave:  time.Duration(cfg.Sync.AutosaveInterval) * time.Second,
		poll:      time.Second,
		now:       time.Now,
		runCtx:    context.Background(),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.items = q.rehydrate(q.store.load(context.Background()))
	return q
}

// rehydrate normalizes reloaded items and resolves their executables.
func (q *Queue) rehydrate(items []*Item) []*Item {
	now := q.now()
	kept := items[:0]
	for _, item := range items {
		if item == nil || item.Status == StatusCompleted {
			continue
		}
		if item.Status == StatusInProgress {
			// The previous process died mid-execution; try again.
			item.Status = StatusPending
			item.NextRetryAt = nil
			item.UpdatedAt = now
		}
		op, err := q.registry.Resolve(item.Kind, item.Payload)
		if err != nil {
			if item.Status != StatusFailed {
				item.Status = StatusFailed
				item.NextRetryAt = nil
				item.LastError = err.Error()
				item.UpdatedAt = now
			}
			q.logger.Warn("reloaded item has no executable operation",
				logging.String(logging.FieldItemID, item.ID),
				logging.String(logging.FieldOpKind, item.Kind),
				logging.Error(err),
				logging.String(logging.FieldEventType, "item_rehydrate_failed"),
				logging.String(logging.FieldErrorHint, "register the operation kind and run queue retry"),
			)
		} else {
			item.op = op
		}
		kept = append(kept, item)
	}
	if len(kept) > 0 {
		q.logger.Info("queue snapshot restored", logging.Int("items", len(kept)))
	}
	return kept
}

// Enqueue appends a new pending item built from the given operation
// descriptor and triggers a drain if the queue is idle. It returns the new
// item's id.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload json.RawMessage, priority Priority, metadata map[string]string) (string, error) {
	if !priority.Valid() {
		return "", fmt.Errorf("invalid priority %d", priority)
	}
	op, err := q.registry.Resolve(kind, payload)
	if err != nil {
		return "", err
	}

	now := q.now()
	item := &Item{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
		op:        op,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	q.saveLocked(ctx)
	status, snap := q.observationLocked()
	q.mu.Unlock()
	q.hub.notify(status, snap)

	q.logger.Info("operation enqueued",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldOpKind, kind),
		logging.String(logging.FieldPriority, priority.String()),
	)

	q.Process()
	return item.ID, nil
}

// Items returns a point-in-time copy of every queue item.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Status returns aggregate queue counts and the drain state.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

// Subscribe registers a listener for queue notifications and returns a handle
// for Unsubscribe.
func (q *Queue) Subscribe(listener Listener) int {
	return q.hub.subscribe(listener)
}

// Unsubscribe removes a previously registered listener.
func (q *Queue) Unsubscribe(handle int) {
	q.hub.unsubscribe(handle)
}

// Process triggers a drain of eligible items. It is a no-op when a drain is
// already in flight; the single-flight invariant guarantees at most one
// outstanding execution. The returned bool reports whether a drain started.
func (q *Queue) Process() bool {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return false
	}
	q.processing = true
	ctx := q.runCtx
	status, snap := q.observationLocked()
	q.mu.Unlock()
	q.hub.notify(status, snap)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.drain(ctx)
	}()
	return true
}

// drain executes eligible items one at a time until none remain. The eligible
// set is recomputed before every pick so a high-priority item enqueued
// mid-drain is selected next.
func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		item := nextEligible(q.items, q.now())
		if item == nil || ctx.Err() != nil {
			q.processing = false
			q.saveLocked(context.Background())
			status, snap := q.observationLocked()
			q.mu.Unlock()
			q.hub.notify(status, snap)
			return
		}

		item.Status = StatusInProgress
		item.NextRetryAt = nil
		item.UpdatedAt = q.now()
		id := item.ID
		op := item.op
		kind := item.Kind
		q.saveLocked(ctx)
		status, snap := q.observationLocked()
		q.mu.Unlock()
		q.hub.notify(status, snap)

		err := q.execute(ctx, op, kind)

		q.mu.Lock()
		if err != nil && ctx.Err() != nil {
			// Shutdown raced the execution; put the item back untouched so
			// the next run retries it without burning an attempt.
			if current := q.findLocked(id); current != nil {
				current.Status = StatusPending
				current.UpdatedAt = q.now()
			}
			q.processing = false
			q.saveLocked(context.Background())
			status, snap := q.observationLocked()
			q.mu.Unlock()
			q.hub.notify(status, snap)
			return
		}
		q.settleLocked(ctx, id, err)
		status, snap = q.observationLocked()
		q.mu.Unlock()
		q.hub.notify(status, snap)
	}
}

// execute runs one operation, honoring the optional per-operation timeout.
// With the timeout disabled a stalled operation blocks the whole queue; that
// matches the historical behavior and is called out in the sample config.
func (q *Queue) execute(ctx context.Context, op Operation, kind string) error {
	if op == nil {
		return fmt.Errorf("%w: %q", ErrUnknownOperation, kind)
	}
	if q.opTimeout <= 0 {
		return op.Execute(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, q.opTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- op.Execute(opCtx) }()
	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		return fmt.Errorf("operation timed out after %s: %w", q.opTimeout, opCtx.Err())
	}
}

// settleLocked applies the post-execution transition for item id. Success
// removes the item (completion is transient, never persisted); failure runs
// the retry policy. Callers hold q.mu.
func (q *Queue) settleLocked(ctx context.Context, id string, execErr error) {
	item := q.findLocked(id)
	if item == nil {
		// Removed or cleared while executing; nothing to settle.
		q.saveLocked(ctx)
		return
	}

	now := q.now()
	if execErr == nil {
		q.removeLocked(id)
		q.saveLocked(ctx)
		q.logger.Info("operation synced",
			logging.String(logging.FieldItemID, id),
			logging.String(logging.FieldOpKind, item.Kind),
		)
		return
	}

	decision := q.policy.Decide(item.Retries, now)
	item.Retries = decision.Retries
	item.Status = decision.Status
	item.NextRetryAt = decision.NextRetryAt
	item.LastError = execErr.Error()
	item.UpdatedAt = now
	q.saveLocked(ctx)

	if decision.Status == StatusFailed {
		q.logger.Error("operation failed permanently",
			logging.String(logging.FieldItemID, id),
			logging.String(logging.FieldOpKind, item.Kind),
			logging.Int("retries", item.Retries),
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "operation_exhausted"),
			logging.String(logging.FieldErrorHint, "inspect the item and run queue retry or queue remove"),
		)
	} else {
		q.logger.Warn("operation failed; will retry",
			logging.String(logging.FieldItemID, id),
			logging.String(logging.FieldOpKind, item.Kind),
			logging.Int("retries", item.Retries),
			logging.Duration("backoff", decision.Delay),
			logging.Error(execErr),
		)
	}
}

// ProcessItem executes one specific item immediately, bypassing scheduler
// ordering but using the regular state machine and retry policy. It fails
// with ErrQueueBusy while a drain holds the execution slot and with
// ErrItemNotFound when the id is unknown.
func (q *Queue) ProcessItem(ctx context.Context, id string) error {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return ErrQueueBusy
	}
	item := q.findLocked(id)
	if item == nil {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if item.Status == StatusInProgress {
		q.mu.Unlock()
		return ErrItemInProgress
	}

	q.processing = true
	item.Status = StatusInProgress
	item.NextRetryAt = nil
	item.UpdatedAt = q.now()
	op := item.op
	kind := item.Kind
	q.saveLocked(ctx)
	status, snap := q.observationLocked()
	q.mu.Unlock()
	q.hub.notify(status, snap)

	err := q.execute(ctx, op, kind)

	q.mu.Lock()
	q.settleLocked(ctx, id, err)
	q.processing = false
	status, snap = q.observationLocked()
	q.mu.Unlock()
	q.hub.notify(status, snap)
	return nil
}

// Remove deletes a pending, retry, or failed item. An in-progress item is
// rejected; callers must wait for the in-flight attempt to resolve.
func (q *Queue) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	item := q.findLocked(id)
	if item == nil {
		q.mu.Unlock()
		return ErrItemNotFound
	}
	if item.Status == StatusInProgress {
		q.mu.Unlock()
		return ErrItemInProgress
	}
	q.removeLocked(id)
	q.saveLocked(ctx)
	status, snap := q.observationLocked()
	q.mu.Unlock()
	q.hub.notify(status, snap)

	q.logger.Info("queue item removed", logging.String(logging.FieldItemID, id))
	return nil
}

// RetryFailed resets every failed item to pending with a zeroed attempt
// counter and triggers a drain. It returns the number of items reset.
func (q *Queue) RetryFailed(ctx context.Context) int {
	q.mu.Lock()
	now := q.now()
	reset := 0
	for _, item := range q.items {
		if item.Status != StatusFailed {
			continue
		}
		item.Status = StatusPending
		item.Retries = 0
		item.NextRetryAt = nil
		item.LastError = ""
		item.UpdatedAt = now
		reset++
	}
	if reset > 0 {
		q.saveLocked(ctx)
	}
	status, snap := q.observationLocked()
	q.mu.Unlock()
	q.hub.notify(status, snap)

	if reset > 0 {
		q.logger.Info("failed items reset for retry", logging.Int("items", reset))
		q.Process()
	}
	return reset
}

// Clear empties the queue unconditionally. Intended for administrative reset.
func (q *Queue) Clear(ctx context.Context) int {
	q.mu.Lock()
	removed := len(q.items)
	q.items = nil
	q.saveLocked(ctx)
	status, snap := q.observationLocked()
	q.mu.Unlock()
	q.hub.notify(status, snap)

	if removed > 0 {
		q.logger.Info("queue cleared", logging.Int("items", removed))
	}
	return removed
}

// Save writes a point-in-time snapshot. Run calls this on the autosave
// interval as a safety net against missed saves.
func (q *Queue) Save(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.saveLocked(ctx)
}

// Run drives the queue's background duties until ctx is canceled: periodic
// autosaves and waking the drain loop when a backed-off retry item becomes
// eligible. A final snapshot is written on the way out.
func (q *Queue) Run(ctx context.Context) {
	q.mu.Lock()
	q.runCtx = ctx
	q.mu.Unlock()

	autosave := time.NewTicker(q.autosave)
	defer autosave.Stop()
	poll := time.NewTicker(q.poll)
	defer poll.Stop()

	q.Process()

	for {
		select {
		case <-ctx.Done():
			q.wg.Wait()
			q.Save(context.Background())
			return
		case <-autosave.C:
			q.Save(ctx)
		case <-poll.C:
			if q.hasEligible() {
				q.Process()
			}
		}
	}
}

func (q *Queue) hasEligible() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.processing && nextEligible(q.items, q.now()) != nil
}

func (q *Queue) findLocked(id string) *Item {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (q *Queue) removeLocked(id string) {
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *Queue) saveLocked(ctx context.Context) {
	q.store.save(ctx, q.items, q.now())
}

func (q *Queue) snapshotLocked() []Item {
	snap := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		snap = append(snap, item.Clone())
	}
	return snap
}

func (q *Queue) statusLocked() QueueStatus {
	status := QueueStatus{Total: len(q.items), Processing: q.processing}
	for _, item := range q.items {
		switch item.Status {
		case StatusPending:
			status.Pending++
		case StatusInProgress:
			status.InProgress++
		case StatusRetry:
			status.Retry++
		case StatusFailed:
			status.Failed++
		}
	}
	return status
}

func (q *Queue) observationLocked() (QueueStatus, []Item) {
	return q.statusLocked(), q.snapshotLocked()
}

// IsProcessing reports whether a drain currently holds the execution slot.
func (q *Queue) IsProcessing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Get returns a copy of one item by id.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.findLocked(id)
	if item == nil {
		return Item{}, ErrItemNotFound
	}
	return item.Clone(), nil
}

// IsNotFound reports whether err is the missing-item sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}
