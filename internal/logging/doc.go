// Package logging builds the slog loggers used across the tally daemon and
// CLI. It offers a human-oriented console handler and a JSON handler selected
// by configuration, plus typed attribute helpers and standardized field keys
// so queue events stay consistent and greppable across components.
package logging
