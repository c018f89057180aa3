package ipc_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tally/internal/daemon"
	"tally/internal/ipc"
	"tally/internal/logging"
	"tally/internal/ops"
	"tally/internal/testsupport"
)

func startDaemon(t *testing.T, endpoint string) (*daemon.Daemon, *ipc.Client) {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithMaxRetries(1))
	cfg.Server.Endpoint = endpoint

	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return d, client
}

func waitForQueue(t *testing.T, client *ipc.Client, what string, cond func(*ipc.StatusResponse) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := client.Status()
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if cond(status) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func clockRequest(t *testing.T) ipc.EnqueueRequest {
	t.Helper()
	payload, err := json.Marshal(ops.ClockRecord{
		WorkerID:   "W-11",
		Direction:  ops.DirectionOut,
		RecordedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return ipc.EnqueueRequest{Kind: ops.KindClockRecord, Payload: payload}
}

func TestStatusRoundTrip(t *testing.T) {
	_, client := startDaemon(t, "")

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running daemon")
	}
	if status.QueueStats["total"] != 0 {
		t.Fatalf("expected empty queue, got %v", status.QueueStats)
	}
	if len(status.Kinds) != 3 {
		t.Fatalf("expected 3 operation kinds, got %v", status.Kinds)
	}
	if status.PID == 0 {
		t.Fatal("expected a pid")
	}
	if len(status.Preflight) == 0 {
		t.Fatal("expected preflight results")
	}
}

func TestEnqueueListRetryRemove(t *testing.T) {
	// No backend: the item fails on its single attempt and stays visible.
	_, client := startDaemon(t, "")

	enq, err := client.Enqueue(clockRequest(t))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if enq.ID == "" {
		t.Fatal("expected an item id")
	}

	waitForQueue(t, client, "item to fail", func(s *ipc.StatusResponse) bool {
		return s.QueueStats["failed"] == 1
	})

	list, err := client.QueueList([]string{"failed"})
	if err != nil {
		t.Fatalf("QueueList: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(list.Items))
	}
	item := list.Items[0]
	if item.ID != enq.ID || item.Kind != ops.KindClockRecord || item.LastError == "" {
		t.Fatalf("unexpected item %+v", item)
	}
	if item.Priority != "critical" {
		t.Fatalf("expected the kind's default priority, got %q", item.Priority)
	}

	desc, err := client.QueueDescribe(enq.ID)
	if err != nil {
		t.Fatalf("QueueDescribe: %v", err)
	}
	if desc.Item.ID != enq.ID {
		t.Fatalf("describe returned wrong item %+v", desc.Item)
	}

	retry, err := client.QueueRetry()
	if err != nil {
		t.Fatalf("QueueRetry: %v", err)
	}
	if retry.Updated != 1 {
		t.Fatalf("expected 1 item reset, got %d", retry.Updated)
	}
	waitForQueue(t, client, "item to fail again", func(s *ipc.StatusResponse) bool {
		return s.QueueStats["failed"] == 1 && !s.Processing
	})

	removed, err := client.QueueRemove(enq.ID)
	if err != nil {
		t.Fatalf("QueueRemove: %v", err)
	}
	if !removed.Removed {
		t.Fatal("expected removal to be acknowledged")
	}
	if _, err := client.QueueRemove(enq.ID); err == nil {
		t.Fatal("expected an error removing a missing item")
	}
}

func TestQueueListRejectsUnknownStatus(t *testing.T) {
	_, client := startDaemon(t, "")
	if _, err := client.QueueList([]string{"bogus"}); err == nil {
		t.Fatal("expected an error for an unknown status filter")
	}
}

func TestEnqueueSyncsAgainstBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	_, client := startDaemon(t, server.URL)

	if _, err := client.Enqueue(clockRequest(t)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForQueue(t, client, "item to sync", func(s *ipc.StatusResponse) bool {
		return s.QueueStats["total"] == 0
	})
}

func TestQueueClear(t *testing.T) {
	_, client := startDaemon(t, "")

	for i := 0; i < 3; i++ {
		if _, err := client.Enqueue(clockRequest(t)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitForQueue(t, client, "items to settle", func(s *ipc.StatusResponse) bool {
		return s.QueueStats["failed"] == 3
	})

	cleared, err := client.QueueClear()
	if err != nil {
		t.Fatalf("QueueClear: %v", err)
	}
	if cleared.Removed != 3 {
		t.Fatalf("expected 3 removed, got %d", cleared.Removed)
	}
}
