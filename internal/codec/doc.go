// Package codec wraps zstd compression for persisted queue snapshots. The
// queue treats compression as a black box; this package owns the algorithm
// choice and its tuning.
package codec
