package ipc

import (
	"encoding/json"
	"time"

	"tally/internal/syncqueue"
)

// QueueItem is the wire representation of a queue entry.
type QueueItem struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Priority    string            `json:"priority"`
	Status      string            `json:"status"`
	Retries     int               `json:"retries"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
}

// FromQueueItem converts a queue model into its wire form.
func FromQueueItem(item syncqueue.Item) QueueItem {
	return QueueItem{
		ID:          item.ID,
		Kind:        item.Kind,
		Payload:     item.Payload,
		Priority:    item.Priority.String(),
		Status:      string(item.Status),
		Retries:     item.Retries,
		NextRetryAt: item.NextRetryAt,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
		Metadata:    item.Metadata,
		LastError:   item.LastError,
	}
}

// PreflightResult mirrors a daemon preflight check outcome.
type PreflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/queue status information.
type StatusResponse struct {
	Running     bool              `json:"running"`
	QueueStats  map[string]int    `json:"queue_stats"`
	Processing  bool              `json:"processing"`
	Preflight   []PreflightResult `json:"preflight"`
	StateDBPath string            `json:"state_db_path"`
	LockPath    string            `json:"lock_path"`
	Kinds       []string          `json:"kinds"`
	PID         int               `json:"pid"`
}

// EnqueueRequest adds a new operation to the queue.
type EnqueueRequest struct {
	Kind     string            `json:"kind"`
	Payload  json.RawMessage   `json:"payload"`
	Priority string            `json:"priority"`
	Metadata map[string]string `json:"metadata"`
}

// EnqueueResponse carries the new item id.
type EnqueueResponse struct {
	ID string `json:"id"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueDescribeRequest fetches a single queue item by id.
type QueueDescribeRequest struct {
	ID string `json:"id"`
}

// QueueDescribeResponse contains a single queue entry.
type QueueDescribeResponse struct {
	Item QueueItem `json:"item"`
}

// QueueRemoveRequest deletes one item by id.
type QueueRemoveRequest struct {
	ID string `json:"id"`
}

// QueueRemoveResponse acknowledges the removal.
type QueueRemoveResponse struct {
	Removed bool `json:"removed"`
}

// QueueClearRequest removes all items.
type QueueClearRequest struct{}

// QueueClearResponse reports number of removed entries.
type QueueClearResponse struct {
	Removed int `json:"removed"`
}

// QueueRetryRequest resets every failed item for another round of attempts.
type QueueRetryRequest struct{}

// QueueRetryResponse reports number of items reset.
type QueueRetryResponse struct {
	Updated int `json:"updated"`
}

// QueueProcessRequest triggers a drain of eligible items.
type QueueProcessRequest struct{}

// QueueProcessResponse reports whether a drain started.
type QueueProcessResponse struct {
	Started bool `json:"started"`
}

// QueueProcessItemRequest executes a single item out of band.
type QueueProcessItemRequest struct {
	ID string `json:"id"`
}

// QueueProcessItemResponse acknowledges the execution attempt.
type QueueProcessItemResponse struct {
	Processed bool `json:"processed"`
}
