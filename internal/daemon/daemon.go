package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tally/internal/codec"
	"tally/internal/config"
	"tally/internal/kvstore"
	"tally/internal/logging"
	"tally/internal/ops"
	"tally/internal/preflight"
	"tally/internal/syncqueue"
)

// Daemon owns the sync queue and its collaborators and enforces
// single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *kvstore.Store
	comp     *codec.Codec
	registry *syncqueue.Registry
	queue    *syncqueue.Queue

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	listener int

	mu     sync.Mutex
	checks []preflight.Result
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Queue        syncqueue.QueueStatus
	Preflight    []preflight.Result
	StateDBPath  string
	LockFilePath string
	SocketPath   string
	PID          int
}

// New constructs a daemon with initialized dependencies: the blob store, the
// snapshot codec, the operation registry, and the queue restored from disk.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare state directories: %w", err)
	}

	store, err := kvstore.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	comp, err := codec.New()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create snapshot codec: %w", err)
	}

	registry := syncqueue.NewRegistry()
	if err := ops.Register(registry, ops.NewClient(cfg)); err != nil {
		comp.Close()
		store.Close()
		return nil, fmt.Errorf("register operations: %w", err)
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		comp:     comp,
		registry: registry,
		queue:    syncqueue.New(cfg, store, comp, registry, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, runs preflight, and launches the queue's
// background loop. Preflight failures are logged but do not abort startup;
// an unreachable backend just means items accumulate.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tally daemon instance is already running")
	}

	checks := preflight.RunAll(ctx, d.cfg)
	d.mu.Lock()
	d.checks = checks
	d.mu.Unlock()
	for _, check := range checks {
		if check.Passed {
			d.logger.Debug("preflight check passed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail))
			continue
		}
		d.logger.Warn("preflight check failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"))
	}

	d.listener = d.queue.Subscribe(func(status syncqueue.QueueStatus, _ []syncqueue.Item) {
		d.logger.Debug("queue state changed",
			logging.Int("total", status.Total),
			logging.Int("pending", status.Pending),
			logging.Int("retry", status.Retry),
			logging.Int("failed", status.Failed),
			logging.Bool("processing", status.Processing))
	})

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.queue.Run(d.ctx)
	}()

	d.running.Store(true)
	d.logger.Info("tally daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("queued_items", d.queue.Status().Total))
	return nil
}

// Stop halts background processing and releases the daemon lock. The queue
// writes a final snapshot on the way down.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.queue.Unsubscribe(d.listener)
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("tally daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.comp != nil {
		d.comp.Close()
	}
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Enqueue adds a new operation to the queue.
func (d *Daemon) Enqueue(ctx context.Context, kind string, payload json.RawMessage, priority syncqueue.Priority, metadata map[string]string) (string, error) {
	return d.queue.Enqueue(ctx, kind, payload, priority, metadata)
}

// ListQueue returns queue items filtered by optional statuses.
func (d *Daemon) ListQueue(statuses []syncqueue.Status) []syncqueue.Item {
	items := d.queue.Items()
	if len(statuses) == 0 {
		return items
	}
	filtered := items[:0]
	for _, item := range items {
		for _, status := range statuses {
			if item.Status == status {
				filtered = append(filtered, item)
				break
			}
		}
	}
	return filtered
}

// GetQueueItem returns a single queue item by id.
func (d *Daemon) GetQueueItem(id string) (syncqueue.Item, error) {
	return d.queue.Get(id)
}

// RemoveQueueItem deletes one item. In-progress items are rejected.
func (d *Daemon) RemoveQueueItem(ctx context.Context, id string) error {
	return d.queue.Remove(ctx, id)
}

// ClearQueue removes all queue items.
func (d *Daemon) ClearQueue(ctx context.Context) int {
	return d.queue.Clear(ctx)
}

// RetryFailed resets failed items to pending and kicks off a drain.
func (d *Daemon) RetryFailed(ctx context.Context) int {
	return d.queue.RetryFailed(ctx)
}

// ProcessQueue triggers a drain. It reports whether one started; false means
// a drain was already in flight.
func (d *Daemon) ProcessQueue() bool {
	return d.queue.Process()
}

// ProcessQueueItem executes one item out of band.
func (d *Daemon) ProcessQueueItem(ctx context.Context, id string) error {
	return d.queue.ProcessItem(ctx, id)
}

// OperationKinds lists the registered operation kinds.
func (d *Daemon) OperationKinds() []string {
	return d.registry.Kinds()
}

// Subscribe attaches a queue listener; the handle feeds Unsubscribe.
func (d *Daemon) Subscribe(listener syncqueue.Listener) int {
	return d.queue.Subscribe(listener)
}

// Unsubscribe detaches a queue listener.
func (d *Daemon) Unsubscribe(handle int) {
	d.queue.Unsubscribe(handle)
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()

	return Status{
		Running:      d.running.Load(),
		Queue:        d.queue.Status(),
		Preflight:    checks,
		StateDBPath:  d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.SocketPath(),
		PID:          os.Getpid(),
	}
}
