// Package cooldown implements per-signature suppression of repeated
// identical failures.
//
// Each distinct error signature (kind + severity + message prefix) owns a
// ledger entry acting as a single-key circuit breaker: once the same
// failure recurs MaxOccurrences times inside its window, further
// occurrences are silenced for a geometrically growing cooldown. A
// signature that stays quiet for ResetAfter fully resets, and entries idle
// for twice that are pruned by the periodic sweep.
//
// Suppression is orthogonal to retry: a suppressed error is still counted
// in stats, it just triggers no strategy execution or notification.
package cooldown
