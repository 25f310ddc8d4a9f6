package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/capturekit/resilience/internal/taxonomy"
)

// Trigger delivers a cleanup or re-query request to the collaborating
// subsystem that owns the affected resource. The core never mutates
// collaborator state directly; it only fires triggers.
//
// Fire returns whether the collaborator acknowledged the request.
type Trigger interface {
	Fire(ctx context.Context, action string, params map[string]any) (bool, error)
}

// TriggerFunc adapts a function to the Trigger interface.
type TriggerFunc func(ctx context.Context, action string, params map[string]any) (bool, error)

func (f TriggerFunc) Fire(ctx context.Context, action string, params map[string]any) (bool, error) {
	return f(ctx, action, params)
}

// Built-in strategy priorities, highest first.
const (
	priorityNetworkProbe     = 100
	priorityMemoryCleanup    = 90
	priorityClipboardRequery = 80
	priorityDOMRequery       = 70
	priorityStorageCleanup   = 60
	priorityReloadRequired   = 10
)

// storageEvictionAge is the fixed cutoff for quota cleanup: entries older
// than this are asked to be evicted.
const storageEvictionAge = 7 * 24 * time.Hour

// NetworkProbeConfig tunes the connectivity re-check.
type NetworkProbeConfig struct {
	URL     string
	Timeout time.Duration
	// Delay waits before probing, giving transient outages room to clear.
	Delay time.Duration
}

// networkProbe re-checks connectivity with a lightweight HTTP request.
type networkProbe struct {
	cfg    NetworkProbeConfig
	client *resty.Client
}

// NewNetworkProbe builds the connectivity strategy. The probe client
// composes retryablehttp's transport under resty, the same stack the rest
// of the project uses for outbound HTTP.
func NewNetworkProbe(cfg NetworkProbeConfig) Strategy {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetTransport(retryClient.HTTPClient.Transport).
		SetHeader("User-Agent", "capturekit-resilience/1.0")

	return &networkProbe{cfg: cfg, client: client}
}

func (n *networkProbe) ID() string    { return "network-probe" }
func (n *networkProbe) Name() string  { return "Network connectivity re-check" }
func (n *networkProbe) Priority() int { return priorityNetworkProbe }

func (n *networkProbe) CanRecover(rec *taxonomy.Record) bool {
	return rec.Kind == taxonomy.KindNetwork || rec.Kind == taxonomy.KindTimeout
}

func (n *networkProbe) Recover(ctx context.Context, rec *taxonomy.Record, _ map[string]any) (Result, error) {
	if n.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(n.cfg.Delay):
		}
	}

	resp, err := n.client.R().SetContext(ctx).Get(n.cfg.URL)
	if err != nil {
		return Result{
			Success:          false,
			Message:          "still offline",
			NextAttemptDelay: 5 * time.Second,
		}, nil
	}
	if resp.StatusCode() >= 500 {
		return Result{Success: false, Message: fmt.Sprintf("probe returned %d", resp.StatusCode())}, nil
	}
	return Result{Success: true, Message: "connectivity restored"}, nil
}

// triggerStrategy is the shared shape of strategies that fire a request
// at a collaborator and succeed iff it acknowledges.
type triggerStrategy struct {
	id       string
	name     string
	priority int
	action   string
	accepts  func(*taxonomy.Record) bool
	params   func(*taxonomy.Record) map[string]any
	trigger  Trigger
}

func (t *triggerStrategy) ID() string                           { return t.id }
func (t *triggerStrategy) Name() string                         { return t.name }
func (t *triggerStrategy) Priority() int                        { return t.priority }
func (t *triggerStrategy) CanRecover(rec *taxonomy.Record) bool { return t.accepts(rec) }

func (t *triggerStrategy) Recover(ctx context.Context, rec *taxonomy.Record, _ map[string]any) (Result, error) {
	if t.trigger == nil {
		return Result{Success: false, Message: "no collaborator wired for " + t.action}, nil
	}
	params := map[string]any{}
	if t.params != nil {
		params = t.params(rec)
	}
	ok, err := t.trigger.Fire(ctx, t.action, params)
	if err != nil {
		return Result{}, fmt.Errorf("trigger %s: %w", t.action, err)
	}
	if !ok {
		return Result{Success: false, Message: t.action + " not acknowledged"}, nil
	}
	return Result{Success: true, Message: t.action + " completed"}, nil
}

// NewMemoryCleanup forces cache eviction on memory pressure.
func NewMemoryCleanup(trigger Trigger) Strategy {
	return &triggerStrategy{
		id:       "memory-cleanup",
		name:     "Memory pressure cleanup",
		priority: priorityMemoryCleanup,
		action:   "cache.evict_all",
		accepts:  func(r *taxonomy.Record) bool { return r.Kind == taxonomy.KindMemory },
		trigger:  trigger,
	}
}

// NewClipboardRequery re-queries clipboard permission after a denial.
func NewClipboardRequery(trigger Trigger) Strategy {
	return &triggerStrategy{
		id:       "clipboard-requery",
		name:     "Clipboard permission re-query",
		priority: priorityClipboardRequery,
		action:   "permissions.query",
		accepts: func(r *taxonomy.Record) bool {
			if r.Kind == taxonomy.KindClipboard {
				return true
			}
			return r.Kind == taxonomy.KindPermission &&
				strings.Contains(strings.ToLower(r.Message), "clipboard")
		},
		params: func(*taxonomy.Record) map[string]any {
			return map[string]any{"name": "clipboard-write"}
		},
		trigger: trigger,
	}
}

// NewStorageCleanup evicts old entries when storage quota is exhausted.
func NewStorageCleanup(trigger Trigger) Strategy {
	return &triggerStrategy{
		id:       "storage-cleanup",
		name:     "Storage quota cleanup",
		priority: priorityStorageCleanup,
		action:   "storage.evict_older_than",
		accepts:  func(r *taxonomy.Record) bool { return r.Kind == taxonomy.KindStorage },
		params: func(*taxonomy.Record) map[string]any {
			return map[string]any{"age_seconds": int(storageEvictionAge.Seconds())}
		},
		trigger: trigger,
	}
}

// domRequery retries element lookup with progressively looser selectors.
type domRequery struct {
	trigger Trigger
}

// NewDOMRequery builds the DOM re-query strategy.
func NewDOMRequery(trigger Trigger) Strategy {
	return &domRequery{trigger: trigger}
}

func (d *domRequery) ID() string    { return "dom-requery" }
func (d *domRequery) Name() string  { return "DOM element re-query" }
func (d *domRequery) Priority() int { return priorityDOMRequery }

func (d *domRequery) CanRecover(rec *taxonomy.Record) bool {
	return rec.Kind == taxonomy.KindDOM
}

func (d *domRequery) Recover(ctx context.Context, rec *taxonomy.Record, _ map[string]any) (Result, error) {
	if d.trigger == nil {
		return Result{Success: false, Message: "no DOM collaborator wired"}, nil
	}

	selector, _ := rec.Context["selector"].(string)
	for _, candidate := range LoosenSelector(selector) {
		ok, err := d.trigger.Fire(ctx, "dom.query", map[string]any{"selector": candidate})
		if err != nil {
			return Result{}, fmt.Errorf("dom.query: %w", err)
		}
		if ok {
			return Result{
				Success: true,
				Data:    candidate,
				Message: "element found with fallback selector",
			}, nil
		}
	}
	return Result{Success: false, Message: "no selector matched"}, nil
}

// LoosenSelector derives progressively less specific CSS selectors from
// the failing one: drop structural pseudo-classes, then attribute
// filters, then trailing class qualifiers, ending at the bare tag.
func LoosenSelector(selector string) []string {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return []string{"article", "div"}
	}

	out := []string{selector}
	add := func(s string) {
		if s != "" && s != out[len(out)-1] {
			out = append(out, s)
		}
	}

	// Drop :pseudo-classes.
	if i := strings.IndexByte(selector, ':'); i > 0 {
		selector = selector[:i]
		add(selector)
	}
	// Drop [attr] filters.
	if i := strings.IndexByte(selector, '['); i > 0 {
		selector = selector[:i]
		add(selector)
	}
	// Drop class qualifiers one at a time, right to left.
	for {
		i := strings.LastIndexByte(selector, '.')
		if i <= 0 {
			break
		}
		selector = selector[:i]
		add(selector)
	}
	return out
}

// reloadRequired is the terminal strategy: automated recovery is over,
// only a page reload will help.
type reloadRequired struct{}

// NewReloadRequired builds the terminal strategy for critical and fatal
// severities.
func NewReloadRequired() Strategy { return reloadRequired{} }

func (reloadRequired) ID() string    { return "reload-required" }
func (reloadRequired) Name() string  { return "Page reload required" }
func (reloadRequired) Priority() int { return priorityReloadRequired }

func (reloadRequired) CanRecover(rec *taxonomy.Record) bool {
	return rec.Severity >= taxonomy.SeverityCritical
}

func (reloadRequired) Recover(_ context.Context, _ *taxonomy.Record, _ map[string]any) (Result, error) {
	return Result{
		Success:            false,
		Message:            "reload the page to continue",
		RequiresUserAction: true,
	}, nil
}

// DefaultStrategies assembles the built-in set in priority order.
func DefaultStrategies(probe NetworkProbeConfig, trigger Trigger) []Strategy {
	return []Strategy{
		NewNetworkProbe(probe),
		NewMemoryCleanup(trigger),
		NewClipboardRequery(trigger),
		NewDOMRequery(trigger),
		NewStorageCleanup(trigger),
		NewReloadRequired(),
	}
}
