// Package preflight verifies the runtime environment before the daemon
// settles in: state directories must be usable and the attendance backend,
// when configured, should be reachable. Backend failures are reported but
// never fatal; queuing while offline is the point of the program.
package preflight

import (
	"context"

	"tally/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every applicable check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	if cfg.Server.Endpoint != "" {
		results = append(results, CheckBackend(ctx, cfg.Server.Endpoint, cfg.Server.APIToken))
	} else {
		results = append(results, Result{
			Name:   "Attendance backend",
			Detail: "endpoint not configured; operations queue until one is set",
		})
	}

	return results
}

// AllPassed reports whether every check in results succeeded.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}
