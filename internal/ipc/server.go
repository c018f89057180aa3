package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"tally/internal/daemon"
	"tally/internal/logging"
	"tally/internal/ops"
	"tally/internal/syncqueue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.WithComponent(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Tally", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually before the next start"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.Processing = status.Queue.Processing
	resp.QueueStats = map[string]int{
		"total":       status.Queue.Total,
		"pending":     status.Queue.Pending,
		"in_progress": status.Queue.InProgress,
		"retry":       status.Queue.Retry,
		"failed":      status.Queue.Failed,
	}
	resp.StateDBPath = status.StateDBPath
	resp.LockPath = status.LockFilePath
	resp.Kinds = s.daemon.OperationKinds()
	resp.PID = status.PID
	resp.Preflight = make([]PreflightResult, 0, len(status.Preflight))
	for _, check := range status.Preflight {
		resp.Preflight = append(resp.Preflight, PreflightResult{
			Name:   check.Name,
			Passed: check.Passed,
			Detail: check.Detail,
		})
	}
	return nil
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	priority, err := parsePriority(req.Priority, req.Kind)
	if err != nil {
		return err
	}

	id, err := s.daemon.Enqueue(s.ctx, req.Kind, req.Payload, priority, req.Metadata)
	if err != nil {
		return err
	}
	resp.ID = id
	s.logger.Info("operation enqueued via IPC",
		logging.String(logging.FieldItemID, id),
		logging.String(logging.FieldOpKind, req.Kind),
		logging.String(logging.FieldEventType, "ipc_enqueue"))
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses := make([]syncqueue.Status, 0, len(req.Statuses))
	for _, raw := range req.Statuses {
		status, ok := syncqueue.ParseStatus(raw)
		if !ok {
			return fmt.Errorf("unknown status %q", raw)
		}
		statuses = append(statuses, status)
	}

	items := s.daemon.ListQueue(statuses)
	resp.Items = make([]QueueItem, 0, len(items))
	for _, item := range items {
		resp.Items = append(resp.Items, FromQueueItem(item))
	}
	return nil
}

func (s *service) QueueDescribe(req QueueDescribeRequest, resp *QueueDescribeResponse) error {
	item, err := s.daemon.GetQueueItem(req.ID)
	if err != nil {
		return err
	}
	resp.Item = FromQueueItem(item)
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	if err := s.daemon.RemoveQueueItem(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Removed = true
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, resp *QueueClearResponse) error {
	resp.Removed = s.daemon.ClearQueue(s.ctx)
	s.logger.Info("queue cleared via IPC",
		logging.Int("removed", resp.Removed),
		logging.String(logging.FieldEventType, "ipc_queue_clear"))
	return nil
}

func (s *service) QueueRetry(_ QueueRetryRequest, resp *QueueRetryResponse) error {
	resp.Updated = s.daemon.RetryFailed(s.ctx)
	return nil
}

func (s *service) QueueProcess(_ QueueProcessRequest, resp *QueueProcessResponse) error {
	resp.Started = s.daemon.ProcessQueue()
	return nil
}

func (s *service) QueueProcessItem(req QueueProcessItemRequest, resp *QueueProcessItemResponse) error {
	if err := s.daemon.ProcessQueueItem(s.ctx, req.ID); err != nil {
		return err
	}
	resp.Processed = true
	return nil
}

// parsePriority maps the wire priority onto the queue's levels. An empty
// string picks the kind's default.
func parsePriority(raw, kind string) (syncqueue.Priority, error) {
	if raw == "" {
		return ops.DefaultPriority(kind), nil
	}
	priority, ok := syncqueue.ParsePriority(raw)
	if !ok {
		return 0, fmt.Errorf("unknown priority %q", raw)
	}
	return priority, nil
}
