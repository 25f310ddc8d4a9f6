package taxonomy

import "strings"

// Severity orders failures from diagnostic noise to process-terminating.
// The ordering is significant: rules and notification policies compare
// severities directly.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityFatal
)

var severityNames = map[Severity]string{
	SeverityDebug:    "debug",
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
	SeverityFatal:    "fatal",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON emits the severity name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	*s = ParseSeverity(strings.Trim(string(data), `"`))
	return nil
}

// ParseSeverity maps a string name back to its Severity, defaulting to
// SeverityError for unrecognized input.
func ParseSeverity(s string) Severity {
	for sev, name := range severityNames {
		if name == s {
			return sev
		}
	}
	return SeverityError
}
