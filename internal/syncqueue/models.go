package syncqueue

import (
	"encoding/json"
	"strings"
	"time"
)

// Priority orders queue items for selection; lower values are more urgent.
type Priority int

const (
	PriorityCritical   Priority = 0
	PriorityHigh       Priority = 1
	PriorityMedium     Priority = 2
	PriorityLow        Priority = 3
	PriorityBackground Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityCritical:   "critical",
	PriorityHigh:       "high",
	PriorityMedium:     "medium",
	PriorityLow:        "low",
	PriorityBackground: "background",
}

// String returns the lowercase display name for the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether the priority is one of the known ordinals.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority converts a display name into a Priority.
func ParsePriority(value string) (Priority, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for priority, name := range priorityNames {
		if name == normalized {
			return priority, true
		}
	}
	return 0, false
}

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

var allStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusRetry,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Item is one unit of deferred work. Kind and Payload form the serializable
// command descriptor; the executable operation is re-hydrated from them and
// never persisted.
type Item struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Priority    Priority          `json:"priority"`
	Status      Status            `json:"status"`
	Retries     int               `json:"retries"`
	NextRetryAt *time.Time        `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	LastError   string            `json:"last_error,omitempty"`

	op Operation
}

// Clone returns a deep copy safe to hand to listeners and API callers.
func (i *Item) Clone() Item {
	cp := *i
	cp.op = nil
	if i.NextRetryAt != nil {
		next := *i.NextRetryAt
		cp.NextRetryAt = &next
	}
	if i.Metadata != nil {
		cp.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			cp.Metadata[k] = v
		}
	}
	if i.Payload != nil {
		cp.Payload = make(json.RawMessage, len(i.Payload))
		copy(cp.Payload, i.Payload)
	}
	return cp
}

// QueueStatus summarizes queue contents for observers.
type QueueStatus struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	InProgress int  `json:"in_progress"`
	Retry      int  `json:"retry"`
	Failed     int  `json:"failed"`
	Processing bool `json:"processing"`
}
