package notify

import (
	"sync"
	"time"

	"github.com/capturekit/resilience/internal/sched"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// ThrottleConfig bounds how often one (kind, severity) pair may surface.
type ThrottleConfig struct {
	// MinInterval is the minimum spacing between consecutive sends.
	MinInterval time.Duration
	// MaxPerHour caps sends over any rolling one-hour window.
	MaxPerHour int
}

type throttleKey struct {
	kind     taxonomy.Kind
	severity taxonomy.Severity
}

// defaultThrottleConfigs builds the per-severity baseline plus the
// kind-specific overrides for the chattiest failure classes.
func defaultThrottleConfigs() map[throttleKey]ThrottleConfig {
	cfgs := make(map[throttleKey]ThrottleConfig)
	bySeverity := map[taxonomy.Severity]ThrottleConfig{
		taxonomy.SeverityDebug:    {MinInterval: 5 * time.Minute, MaxPerHour: 5},
		taxonomy.SeverityInfo:     {MinInterval: time.Minute, MaxPerHour: 10},
		taxonomy.SeverityWarning:  {MinInterval: 30 * time.Second, MaxPerHour: 20},
		taxonomy.SeverityError:    {MinInterval: 15 * time.Second, MaxPerHour: 30},
		taxonomy.SeverityCritical: {MinInterval: 5 * time.Second, MaxPerHour: 60},
		taxonomy.SeverityFatal:    {MinInterval: 0, MaxPerHour: 120},
	}
	for _, kind := range taxonomy.Kinds() {
		for sev, cfg := range bySeverity {
			cfgs[throttleKey{kind, sev}] = cfg
		}
	}
	// Clipboard prompts annoy quickly; space warnings further apart.
	cfgs[throttleKey{taxonomy.KindClipboard, taxonomy.SeverityWarning}] =
		ThrottleConfig{MinInterval: 15 * time.Second, MaxPerHour: 20}
	// Network blips come in bursts; let a few more through per hour.
	cfgs[throttleKey{taxonomy.KindNetwork, taxonomy.SeverityError}] =
		ThrottleConfig{MinInterval: 10 * time.Second, MaxPerHour: 40}
	return cfgs
}

// genericThrottle applies when no config covers the key.
var genericThrottle = ThrottleConfig{MinInterval: 30 * time.Second, MaxPerHour: 20}

// Throttle tracks per-key send history over a rolling hour.
type Throttle struct {
	clock   sched.Clock
	mu      sync.Mutex
	configs map[throttleKey]ThrottleConfig
	history map[throttleKey][]time.Time
}

// NewThrottle creates a throttle seeded with the default configs.
func NewThrottle(clock sched.Clock) *Throttle {
	return &Throttle{
		clock:   clock,
		configs: defaultThrottleConfigs(),
		history: make(map[throttleKey][]time.Time),
	}
}

// SetConfig overrides the throttle config for one (kind, severity) pair.
func (t *Throttle) SetConfig(kind taxonomy.Kind, sev taxonomy.Severity, cfg ThrottleConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configs[throttleKey{kind, sev}] = cfg
}

// Allow reports whether a notification for rec may be sent now, and
// records the send when it may. Denials leave the history untouched.
func (t *Throttle) Allow(rec *taxonomy.Record) bool {
	key := throttleKey{rec.Kind, rec.Severity}
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	cfg, ok := t.configs[key]
	if !ok {
		cfg = genericThrottle
	}

	hist := pruneBefore(t.history[key], now.Add(-time.Hour))
	t.history[key] = hist

	if len(hist) > 0 && now.Sub(hist[len(hist)-1]) < cfg.MinInterval {
		return false
	}
	if len(hist) >= cfg.MaxPerHour {
		return false
	}
	t.history[key] = append(hist, now)
	return true
}

// Prune drops history entries older than an hour across every key and
// returns how many were removed. Run periodically so idle keys do not
// hold their last burst forever.
func (t *Throttle) Prune() int {
	now := t.clock.Now()
	cutoff := now.Add(-time.Hour)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, hist := range t.history {
		kept := pruneBefore(hist, cutoff)
		removed += len(hist) - len(kept)
		if len(kept) == 0 {
			delete(t.history, key)
			continue
		}
		t.history[key] = kept
	}
	return removed
}

// pruneBefore drops timestamps at or before cutoff. History is
// append-only, so the slice is already sorted.
func pruneBefore(hist []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hist) && !hist[i].After(cutoff) {
		i++
	}
	return hist[i:]
}
