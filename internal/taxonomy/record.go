package taxonomy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is the normalized representation of a failure.
//
// Kind and Severity are fixed at construction. Metadata is open and may be
// annotated after the fact; by convention only the notification batcher
// writes to it (batch counters), everything else treats it as read-only.
type Record struct {
	ID          string         `json:"id"`
	Kind        Kind           `json:"kind"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	Timestamp   time.Time      `json:"timestamp"`
	Context     map[string]any `json:"context,omitempty"`
	UserMessage string         `json:"user_message"`
	Suggestion  string         `json:"suggestion"`
	Recoverable bool           `json:"recoverable"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Cause       error          `json:"-"`
}

// Error implements the error interface.
func (r *Record) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", r.Kind, r.Severity, r.Message, r.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", r.Kind, r.Severity, r.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (r *Record) Unwrap() error {
	return r.Cause
}

// NewRecord builds a Record with generated ID and current timestamp.
// Recoverable defaults to true; callers mark terminal failures explicitly.
func NewRecord(kind Kind, severity Severity, message string) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Kind:        kind,
		Severity:    severity,
		Message:     message,
		Timestamp:   time.Now(),
		Recoverable: true,
		Metadata:    make(map[string]any),
	}
}

// WithContext attaches caller-supplied structured context.
func (r *Record) WithContext(ctx map[string]any) *Record {
	r.Context = ctx
	return r
}

// WithCause attaches the original error.
func (r *Record) WithCause(err error) *Record {
	r.Cause = err
	return r
}

// Unrecoverable marks the record as not eligible for automated recovery.
func (r *Record) Unrecoverable() *Record {
	r.Recoverable = false
	return r
}
