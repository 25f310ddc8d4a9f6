// Package notify rate-limits and batches user-facing notifications. Errors
// flow in through Queue, get collapsed per batch key, and leave through
// registered sinks on the periodic flush tick.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/capturekit/resilience/internal/taxonomy"
)

// Action is an interaction offered on a persistent notification.
type Action string

const (
	ActionRetry       Action = "retry"
	ActionCopyDetails Action = "copy_details"
	ActionReport      Action = "report"
)

// Notification is the user-visible rendering of one or more records.
type Notification struct {
	ID         string            `json:"id"`
	Kind       taxonomy.Kind     `json:"kind"`
	Severity   taxonomy.Severity `json:"severity"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	// Count is the number of records merged into this notification
	// within one flush window.
	Count int `json:"count"`
	// Duration is how long the widget keeps the notification visible.
	// Zero means persistent: it stays until dismissed or acted on.
	Duration   time.Duration    `json:"duration_ms"`
	Persistent bool             `json:"persistent"`
	Actions    []Action         `json:"actions,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	Record     *taxonomy.Record `json:"record,omitempty"`
}

// displayPolicy maps severity to on-screen lifetime. Critical and fatal
// notifications never auto-dismiss and carry the full action set.
func displayPolicy(sev taxonomy.Severity) (time.Duration, bool) {
	switch sev {
	case taxonomy.SeverityDebug:
		return 2 * time.Second, false
	case taxonomy.SeverityInfo:
		return 3 * time.Second, false
	case taxonomy.SeverityWarning:
		return 5 * time.Second, false
	case taxonomy.SeverityError:
		return 8 * time.Second, false
	default:
		return 0, true
	}
}

// fromRecord builds the initial single-occurrence notification.
func fromRecord(rec *taxonomy.Record, now time.Time) *Notification {
	msg := rec.UserMessage
	if msg == "" {
		msg = rec.Message
	}
	dur, persistent := displayPolicy(rec.Severity)
	n := &Notification{
		ID:         uuid.NewString(),
		Kind:       rec.Kind,
		Severity:   rec.Severity,
		Message:    msg,
		Suggestion: rec.Suggestion,
		Count:      1,
		Duration:   dur,
		Persistent: persistent,
		CreatedAt:  now,
		Record:     rec,
	}
	if persistent {
		n.Actions = []Action{ActionRetry, ActionCopyDetails, ActionReport}
	}
	return n
}

// Toast builds a throttle-exempt informational notification with no
// backing record. Used for recovery-success and warning banners.
func Toast(sev taxonomy.Severity, message string) *Notification {
	dur, persistent := displayPolicy(sev)
	return &Notification{
		ID:         uuid.NewString(),
		Kind:       taxonomy.KindUnknown,
		Severity:   sev,
		Message:    message,
		Count:      1,
		Duration:   dur,
		Persistent: persistent,
		CreatedAt:  time.Now(),
	}
}
