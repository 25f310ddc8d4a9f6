package rules

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/capturekit/resilience/internal/taxonomy"
)

// ruleSpec is the YAML shape of one declarative rule. Fallback functions
// cannot be declared in YAML; a "fallback" action there resolves to an
// empty-result fallback.
type ruleSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind,omitempty"`
	Severity string `yaml:"severity,omitempty"`
	Pattern  string `yaml:"pattern,omitempty"`
	Action   string `yaml:"action"`
	Notify   bool   `yaml:"notify,omitempty"`
}

// throttleSpec is the YAML shape of one notification throttle override.
type throttleSpec struct {
	Kind        string `yaml:"kind"`
	Severity    string `yaml:"severity"`
	MinInterval string `yaml:"min_interval,omitempty"`
	MaxPerHour  int    `yaml:"max_per_hour,omitempty"`
}

type policyFile struct {
	Rules    []ruleSpec     `yaml:"rules"`
	Throttle []throttleSpec `yaml:"throttle,omitempty"`
}

// ThrottleOverride retunes the notification throttle for one
// (kind, severity) pair.
type ThrottleOverride struct {
	Kind        taxonomy.Kind
	Severity    taxonomy.Severity
	MinInterval time.Duration
	MaxPerHour  int
}

// Policy is everything a YAML policy file can declare: rules layered
// ahead of the defaults plus throttle overrides.
type Policy struct {
	Rules    []Rule
	Throttle []ThrottleOverride
}

// LoadPolicyFile parses a YAML policy file, preserving rule order.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// LoadFile parses only the rules section of a policy file.
func LoadFile(path string) ([]Rule, error) {
	policy, err := LoadPolicyFile(path)
	if err != nil {
		return nil, err
	}
	return policy.Rules, nil
}

// Parse decodes only the rules section of YAML policy data.
func Parse(data []byte) ([]Rule, error) {
	policy, err := ParsePolicy(data)
	if err != nil {
		return nil, err
	}
	return policy.Rules, nil
}

// ParsePolicy decodes YAML rule and throttle definitions.
func ParsePolicy(data []byte) (Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}

	rules, err := parseRules(file.Rules)
	if err != nil {
		return Policy{}, err
	}
	throttle, err := parseThrottle(file.Throttle)
	if err != nil {
		return Policy{}, err
	}
	return Policy{Rules: rules, Throttle: throttle}, nil
}

func parseRules(specs []ruleSpec) ([]Rule, error) {
	out := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		action, ok := ParseAction(spec.Action)
		if !ok {
			return nil, fmt.Errorf("rule %d (%s): unknown action %q", i, spec.Name, spec.Action)
		}
		rule := Rule{
			Name:   spec.Name,
			Action: action,
			Notify: spec.Notify,
		}
		if action == ActionFallback {
			rule.Fallback = func() (any, error) { return nil, nil }
		}
		if spec.Kind != "" {
			rule.Kind = kindPtr(taxonomy.ParseKind(spec.Kind))
		}
		if spec.Severity != "" {
			rule.Severity = severityPtr(taxonomy.ParseSeverity(spec.Severity))
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): bad pattern: %w", i, spec.Name, err)
			}
			rule.Pattern = re
		}
		out = append(out, rule)
	}
	return out, nil
}

func parseThrottle(specs []throttleSpec) ([]ThrottleOverride, error) {
	out := make([]ThrottleOverride, 0, len(specs))
	for i, spec := range specs {
		if spec.Kind == "" || spec.Severity == "" {
			return nil, fmt.Errorf("throttle %d: kind and severity are required", i)
		}
		ov := ThrottleOverride{
			Kind:       taxonomy.ParseKind(spec.Kind),
			Severity:   taxonomy.ParseSeverity(spec.Severity),
			MaxPerHour: spec.MaxPerHour,
		}
		if spec.MinInterval != "" {
			d, err := time.ParseDuration(spec.MinInterval)
			if err != nil {
				return nil, fmt.Errorf("throttle %d (%s/%s): bad min_interval: %w",
					i, spec.Kind, spec.Severity, err)
			}
			ov.MinInterval = d
		}
		out = append(out, ov)
	}
	return out, nil
}
