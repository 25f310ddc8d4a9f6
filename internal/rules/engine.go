package rules

import (
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/capturekit/resilience/internal/infrastructure/logging"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// Action is the strategy a rule binds to matching errors.
type Action int

const (
	ActionIgnore Action = iota
	ActionLog
	ActionRetry
	ActionFallback
	ActionNotify
	ActionThrow
)

var actionNames = map[Action]string{
	ActionIgnore:   "ignore",
	ActionLog:      "log",
	ActionRetry:    "retry",
	ActionFallback: "fallback",
	ActionNotify:   "notify",
	ActionThrow:    "throw",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAction maps an action name to its Action; ok is false for
// unrecognized names.
func ParseAction(s string) (Action, bool) {
	for a, name := range actionNames {
		if name == s {
			return a, true
		}
	}
	return ActionIgnore, false
}

// Rule binds a structural match to an action. Nil match fields match
// anything.
type Rule struct {
	Name     string
	Kind     *taxonomy.Kind
	Severity *taxonomy.Severity
	Pattern  *regexp.Regexp
	Action   Action
	// Notify additionally queues a user notification alongside the
	// primary action.
	Notify bool
	// Fallback supplies the recovery value for ActionFallback rules.
	Fallback func() (any, error)
}

func (r Rule) matches(rec *taxonomy.Record) bool {
	if r.Kind != nil && *r.Kind != rec.Kind {
		return false
	}
	if r.Severity != nil && *r.Severity != rec.Severity {
		return false
	}
	if r.Pattern != nil && !r.Pattern.MatchString(rec.Message) {
		return false
	}
	return true
}

// Outcome reports what a rule execution decided.
type Outcome struct {
	Success bool
	Action  Action
	// Result carries the fallback value for ActionFallback.
	Result any
	// Err is non-nil for ActionThrow (the rethrown record) and for
	// failed fallbacks.
	Err error
	// ShouldNotify tells the caller to queue a user notification.
	ShouldNotify bool
}

// Engine evaluates rules in order and executes the winning strategy.
type Engine struct {
	log *logging.Logger

	mu    sync.RWMutex
	rules []Rule
}

// NewEngine creates an engine preloaded with the default rule set.
func NewEngine(log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{
		log:   log.Named("rules"),
		rules: DefaultRules(),
	}
}

// Add appends a rule. Later additions lose to earlier rules on ties, so
// collaborators registering specific rules at startup should add them
// before traffic flows.
func (e *Engine) Add(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
}

// Prepend inserts a rule ahead of the defaults.
func (e *Engine) Prepend(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]Rule{rule}, e.rules...)
}

// Find returns the first matching rule for rec, or nil.
func (e *Engine) Find(rec *taxonomy.Record) *Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.rules {
		if e.rules[i].matches(rec) {
			r := e.rules[i]
			return &r
		}
	}
	return nil
}

// Execute runs the rule's strategy against rec.
func (e *Engine) Execute(rec *taxonomy.Record, rule *Rule) Outcome {
	out := Outcome{Action: rule.Action, ShouldNotify: rule.Notify}

	switch rule.Action {
	case ActionIgnore:
		out.Success = true

	case ActionLog:
		e.log.Info("handled error",
			zap.String("rule", rule.Name),
			zap.String("kind", rec.Kind.String()),
			zap.String("severity", rec.Severity.String()),
			zap.String("message", rec.Message),
		)
		out.Success = true

	case ActionRetry:
		// The retry loop lives caller-side (recovery.WithFallback); the
		// engine only signals the directive.
		out.Success = true

	case ActionFallback:
		if rule.Fallback == nil {
			out.Err = fmt.Errorf("rule %q: fallback action without fallback func", rule.Name)
			break
		}
		result, err := rule.Fallback()
		if err != nil {
			out.Err = fmt.Errorf("fallback for %q failed: %w", rule.Name, err)
			break
		}
		out.Success = true
		out.Result = result

	case ActionNotify:
		out.Success = true
		out.ShouldNotify = true

	case ActionThrow:
		out.Err = rec

	default:
		out.Err = fmt.Errorf("rule %q: unknown action %d", rule.Name, rule.Action)
	}

	return out
}

func kindPtr(k taxonomy.Kind) *taxonomy.Kind             { return &k }
func severityPtr(s taxonomy.Severity) *taxonomy.Severity { return &s }

// DefaultRules encodes the propagation policy. Order matters: fatal wins
// over everything, debug noise is filtered before kind-specific handling.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "fatal-rethrow", Severity: severityPtr(taxonomy.SeverityFatal), Action: ActionThrow, Notify: true},
		{Name: "debug-log-only", Severity: severityPtr(taxonomy.SeverityDebug), Action: ActionLog},
		{Name: "memory-critical", Kind: kindPtr(taxonomy.KindMemory), Severity: severityPtr(taxonomy.SeverityCritical), Action: ActionNotify},
		{Name: "network-retry", Kind: kindPtr(taxonomy.KindNetwork), Action: ActionRetry},
		{Name: "parsing-fallback", Kind: kindPtr(taxonomy.KindParsing), Action: ActionFallback, Notify: true,
			Fallback: func() (any, error) { return nil, nil }},
		{Name: "permission-notify", Kind: kindPtr(taxonomy.KindPermission), Action: ActionNotify},
	}
}
