// Package rules maps normalized errors to handling strategies.
//
// Rules are evaluated in registration order; the first rule whose kind,
// severity and message pattern all match wins (absent fields match
// anything). A rule names one primary action (ignore, log, retry,
// fallback, notify or throw) and may additionally request a notification.
//
// The default rule set encodes the propagation policy: fatal errors are
// rethrown, debug noise is logged only, network failures signal the caller
// to retry, parsing failures fall back and notify, permission and critical
// memory failures notify the user.
package rules
