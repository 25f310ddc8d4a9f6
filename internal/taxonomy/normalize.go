package taxonomy

import (
	"errors"
	"strings"
)

// classifier is one ordered inference rule: if any needle matches the raw
// error text, the failure is assigned kind and optionally has its severity
// adjusted. First match wins.
type classifier struct {
	needles  []string
	kind     Kind
	severity *Severity
}

func sev(s Severity) *Severity { return &s }

// defaultClassifiers is evaluated in order against the lowercased error
// text. Order matters: "clipboard permission denied" should classify as
// permission, so permission outranks clipboard.
var defaultClassifiers = []classifier{
	{needles: []string{"permission", "denied", "notallowed"}, kind: KindPermission, severity: sev(SeverityWarning)},
	{needles: []string{"memory", "heap", "allocation failed"}, kind: KindMemory, severity: sev(SeverityCritical)},
	{needles: []string{"clipboard"}, kind: KindClipboard},
	{needles: []string{"screenshot", "canvas", "raster"}, kind: KindScreenshot},
	{needles: []string{"timeout", "timed out", "deadline"}, kind: KindTimeout},
	{needles: []string{"fetch", "network", "connection", "cors", "net::"}, kind: KindNetwork},
	{needles: []string{"parse", "json", "unexpected token", "syntax"}, kind: KindParsing},
	{needles: []string{"quota", "storage"}, kind: KindStorage},
	{needles: []string{"selector", "element not found", "dom", "node"}, kind: KindDOM},
	{needles: []string{"invalid", "validation", "required field"}, kind: KindValidation},
	{needles: []string{"format"}, kind: KindFormatting},
}

// userText holds the localized user-facing message and suggestion for a kind.
type userText struct {
	message    string
	suggestion string
}

var userTexts = map[Kind]userText{
	KindNetwork:    {"Connection problem", "Check your internet connection and try again."},
	KindParsing:    {"The page content could not be read", "The page layout may have changed; refresh and retry."},
	KindFormatting: {"Content could not be formatted", "Try a different output format."},
	KindClipboard:  {"Could not access the clipboard", "Click the page first, then retry the copy."},
	KindStorage:    {"Local storage is full", "Clear old captures to free up space."},
	KindPermission: {"Permission was denied", "Grant the extension the required permission in settings."},
	KindDOM:        {"Page element not found", "The page layout may have changed; refresh and retry."},
	KindValidation: {"Invalid input", "Check the highlighted values and retry."},
	KindTimeout:    {"The operation took too long", "Retry; if it persists, the service may be slow."},
	KindMemory:     {"The extension is low on memory", "Close unused tabs or reload the page."},
	KindScreenshot: {"Screenshot capture failed", "Scroll the content into view and retry."},
	KindUnknown:    {"Something went wrong", "Retry; if it persists, report the issue."},
}

// Normalizer converts arbitrary errors into Records.
type Normalizer struct {
	classifiers []classifier
}

// NewNormalizer returns a Normalizer with the default inference rules.
func NewNormalizer() *Normalizer {
	return &Normalizer{classifiers: defaultClassifiers}
}

// Normalize converts err plus optional caller context into a Record.
// Passing an already-normalized Record returns it unchanged, so collaborators
// may pre-classify errors they understand better than the heuristics do.
func (n *Normalizer) Normalize(err error, context map[string]any) *Record {
	if err == nil {
		return nil
	}

	var rec *Record
	if errors.As(err, &rec) {
		return rec
	}

	kind, severity := n.classify(err.Error())
	rec = NewRecord(kind, severity, err.Error()).WithCause(err)
	if context != nil {
		rec.Context = context
	}
	text := userTexts[kind]
	rec.UserMessage = text.message
	rec.Suggestion = text.suggestion
	return rec
}

// classify runs the ordered inference rules over the error text.
func (n *Normalizer) classify(message string) (Kind, Severity) {
	lower := strings.ToLower(message)
	for _, c := range n.classifiers {
		for _, needle := range c.needles {
			if strings.Contains(lower, needle) {
				severity := SeverityError
				if c.severity != nil {
					severity = *c.severity
				}
				return c.kind, severity
			}
		}
	}
	return KindUnknown, SeverityError
}
