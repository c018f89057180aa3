// Package kvstore provides a small SQLite-backed blob store used by the sync
// queue for whole-snapshot persistence. Writes are last-writer-wins; callers
// own serialization and compression of the stored values.
package kvstore
