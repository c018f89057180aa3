package syncqueue

import "errors"

var (
	// ErrItemNotFound is returned when an item id is not present in the queue.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrItemInProgress is returned when an operation targets an item that is
	// currently executing. Callers must wait for the in-flight attempt to
	// resolve.
	ErrItemInProgress = errors.New("queue item is in progress")

	// ErrUnknownOperation is returned when no factory is registered for an
	// operation kind.
	ErrUnknownOperation = errors.New("unknown operation kind")

	// ErrQueueBusy is returned when an out-of-band execution is requested
	// while a drain already holds the single execution slot.
	ErrQueueBusy = errors.New("queue is already processing")
)
