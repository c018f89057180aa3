package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tally/internal/syncqueue"
)

// Operation kinds understood by this build. The kind string is persisted with
// each queue item, so renaming one orphans previously queued items.
const (
	KindClockRecord   = "clock_record"
	KindWorkerProfile = "worker_profile"
	KindSettingsSync  = "settings_sync"
)

// Clock directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ClockRecord is a single clock-in or clock-out event captured on the device,
// possibly while offline. RecordedAt is the capture time, not the sync time.
type ClockRecord struct {
	WorkerID   string    `json:"worker_id"`
	Direction  string    `json:"direction"`
	RecordedAt time.Time `json:"recorded_at"`
	Site       string    `json:"site,omitempty"`
	Note       string    `json:"note,omitempty"`
}

func (r ClockRecord) validate() error {
	if r.WorkerID == "" {
		return errors.New("clock record missing worker_id")
	}
	if r.Direction != DirectionIn && r.Direction != DirectionOut {
		return fmt.Errorf("clock record direction must be %q or %q, got %q", DirectionIn, DirectionOut, r.Direction)
	}
	if r.RecordedAt.IsZero() {
		return errors.New("clock record missing recorded_at")
	}
	return nil
}

// WorkerProfile is a locally edited worker record awaiting upload.
type WorkerProfile struct {
	WorkerID string `json:"worker_id"`
	FullName string `json:"full_name"`
	Role     string `json:"role,omitempty"`
	Email    string `json:"email,omitempty"`
}

func (p WorkerProfile) validate() error {
	if p.WorkerID == "" {
		return errors.New("worker profile missing worker_id")
	}
	if p.FullName == "" {
		return errors.New("worker profile missing full_name")
	}
	return nil
}

// SettingsSync mirrors device-local settings to the backend.
type SettingsSync struct {
	DeviceID string          `json:"device_id"`
	Settings json.RawMessage `json:"settings"`
}

func (s SettingsSync) validate() error {
	if s.DeviceID == "" {
		return errors.New("settings sync missing device_id")
	}
	if len(s.Settings) == 0 {
		return errors.New("settings sync missing settings")
	}
	return nil
}

// DefaultPriority returns the scheduling priority an operation kind gets when
// the caller does not specify one. Clock records carry payroll data and go
// first; settings trail everything else.
func DefaultPriority(kind string) syncqueue.Priority {
	switch kind {
	case KindClockRecord:
		return syncqueue.PriorityCritical
	case KindWorkerProfile:
		return syncqueue.PriorityMedium
	case KindSettingsSync:
		return syncqueue.PriorityBackground
	default:
		return syncqueue.PriorityMedium
	}
}

// Register wires every operation kind into the registry. Payloads are decoded
// and validated at registration-resolve time, so a malformed descriptor is
// rejected at enqueue rather than discovered during execution.
func Register(registry *syncqueue.Registry, client *Client) error {
	factories := map[string]syncqueue.Factory{
		KindClockRecord: func(payload json.RawMessage) (syncqueue.Operation, error) {
			var record ClockRecord
			if err := decode(payload, &record); err != nil {
				return nil, err
			}
			return syncqueue.OperationFunc(func(ctx context.Context) error {
				return client.post(ctx, "/v1/clock-records", record)
			}), nil
		},
		KindWorkerProfile: func(payload json.RawMessage) (syncqueue.Operation, error) {
			var profile WorkerProfile
			if err := decode(payload, &profile); err != nil {
				return nil, err
			}
			return syncqueue.OperationFunc(func(ctx context.Context) error {
				return client.post(ctx, "/v1/workers", profile)
			}), nil
		},
		KindSettingsSync: func(payload json.RawMessage) (syncqueue.Operation, error) {
			var settings SettingsSync
			if err := decode(payload, &settings); err != nil {
				return nil, err
			}
			return syncqueue.OperationFunc(func(ctx context.Context) error {
				return client.post(ctx, "/v1/settings", settings)
			}), nil
		},
	}

	for kind, factory := range factories {
		if err := registry.Register(kind, factory); err != nil {
			return err
		}
	}
	return nil
}

type validator interface {
	validate() error
}

func decode(payload json.RawMessage, target validator) error {
	if len(payload) == 0 {
		return errors.New("empty operation payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode operation payload: %w", err)
	}
	return target.validate()
}
