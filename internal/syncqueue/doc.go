// Package syncqueue implements the deferred-operation queue at the heart of
// tally's offline support.
//
// Operations created while the backend is unreachable (clock punches, profile
// updates, settings pulls) are enqueued as serializable descriptors and
// drained one at a time in priority order with bounded exponential backoff
// between retries. The queue persists a compressed whole-snapshot of its items
// through a blob store collaborator after every mutation and on a periodic
// autosave, and fans out status/item snapshots to subscribed listeners.
//
// The queue never inspects operation semantics; executables are re-hydrated
// from descriptors through a Registry so items survive process restarts.
package syncqueue
