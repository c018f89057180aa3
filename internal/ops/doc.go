// Package ops defines the attendance operations the sync queue executes:
// clock record uploads, worker profile updates, and device settings sync.
// Each operation is a JSON descriptor that rehydrates into an HTTP call
// against the configured attendance backend.
package ops
