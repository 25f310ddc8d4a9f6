// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Every pipeline component receives a Named child logger so log lines can
// be traced back to the normalizer, ledger, rule engine, recovery registry
// or notifier that emitted them.
//
// Example Usage:
//
//	logger := logging.NewDefault().Named("cooldown")
//	logger.Info("entry escalated", zap.Int("level", 2))
package logging
