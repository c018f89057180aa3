// Package daemon wires the sync queue, its persistence, and the registered
// attendance operations into a long-running background process. It enforces
// single-instance execution with a file lock and exposes the control surface
// the IPC layer serves to the CLI.
package daemon
