package cooldown

import (
	"hash/fnv"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/capturekit/resilience/internal/sched"
	"github.com/capturekit/resilience/internal/taxonomy"
)

// signaturePrefixLen bounds how much of the message participates in the
// signature. Two distinct failures sharing a 50-char prefix share one
// breaker; that coarseness is deliberate.
const signaturePrefixLen = 50

// Config tunes suppression for one failure class.
type Config struct {
	// Duration is the base cooldown window.
	Duration time.Duration
	// MaxOccurrences is how many occurrences are tolerated before the
	// breaker escalates.
	MaxOccurrences int
	// EscalationFactor multiplies the window on each escalation.
	EscalationFactor float64
	// ResetAfter is the quiet period after which the entry fully resets.
	ResetAfter time.Duration
}

// DefaultConfigs returns per-kind suppression tuning. Classes with a
// larger blast radius (memory, storage) tolerate fewer occurrences and
// escalate harder.
func DefaultConfigs() map[taxonomy.Kind]Config {
	return map[taxonomy.Kind]Config{
		taxonomy.KindNetwork:    {Duration: 30 * time.Second, MaxOccurrences: 3, EscalationFactor: 2, ResetAfter: 5 * time.Minute},
		taxonomy.KindMemory:     {Duration: 60 * time.Second, MaxOccurrences: 2, EscalationFactor: 3, ResetAfter: 10 * time.Minute},
		taxonomy.KindStorage:    {Duration: 45 * time.Second, MaxOccurrences: 2, EscalationFactor: 2.5, ResetAfter: 10 * time.Minute},
		taxonomy.KindTimeout:    {Duration: 30 * time.Second, MaxOccurrences: 3, EscalationFactor: 2, ResetAfter: 5 * time.Minute},
		taxonomy.KindClipboard:  {Duration: 15 * time.Second, MaxOccurrences: 4, EscalationFactor: 2, ResetAfter: 3 * time.Minute},
		taxonomy.KindPermission: {Duration: 60 * time.Second, MaxOccurrences: 2, EscalationFactor: 2, ResetAfter: 10 * time.Minute},
		taxonomy.KindDOM:        {Duration: 20 * time.Second, MaxOccurrences: 5, EscalationFactor: 2, ResetAfter: 5 * time.Minute},
		taxonomy.KindScreenshot: {Duration: 30 * time.Second, MaxOccurrences: 3, EscalationFactor: 2, ResetAfter: 5 * time.Minute},
	}
}

// GenericConfig is the fallback for kinds without dedicated tuning.
func GenericConfig() Config {
	return Config{
		Duration:         30 * time.Second,
		MaxOccurrences:   3,
		EscalationFactor: 2,
		ResetAfter:       5 * time.Minute,
	}
}

// Item is the ledger entry for one error signature.
type Item struct {
	Key             uint64
	Count           int
	FirstOccurrence time.Time
	LastOccurrence  time.Time
	CooldownUntil   time.Time // zero = inactive
	EscalationLevel int

	config Config
}

// Signature derives the stable suppression key for a record.
func Signature(rec *taxonomy.Record) uint64 {
	msg := rec.Message
	if len(msg) > signaturePrefixLen {
		msg = msg[:signaturePrefixLen]
	}
	h := fnv.New64a()
	h.Write([]byte(rec.Kind.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(rec.Severity.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(msg))
	return h.Sum64()
}

// Ledger tracks occurrence counts and escalating suppression windows per
// signature. All mutation happens under one mutex; entries are created on
// first sight and only removed by Sweep.
type Ledger struct {
	clock    sched.Clock
	configs  map[taxonomy.Kind]Config
	fallback Config

	mu      sync.Mutex
	entries map[uint64]*Item
}

// NewLedger creates a ledger with the given per-kind configs.
func NewLedger(clock sched.Clock, configs map[taxonomy.Kind]Config) *Ledger {
	if configs == nil {
		configs = DefaultConfigs()
	}
	return &Ledger{
		clock:    clock,
		configs:  configs,
		fallback: GenericConfig(),
		entries:  make(map[uint64]*Item),
	}
}

// InCooldown records one occurrence of rec and reports whether it is
// currently suppressed.
//
// The escalating call itself is not suppressed: the occurrence that trips
// the breaker still flows through rules and recovery, only the repeats
// inside the new window are silenced.
func (l *Ledger) InCooldown(rec *taxonomy.Record) bool {
	key := Signature(rec)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.entries[key]
	if !ok {
		l.entries[key] = &Item{
			Key:             key,
			Count:           1,
			FirstOccurrence: now,
			LastOccurrence:  now,
			config:          l.configFor(rec.Kind),
		}
		return false
	}

	item.LastOccurrence = now

	// Quiet long enough: full reset, this occurrence starts a new cycle.
	if now.Sub(item.FirstOccurrence) > item.config.ResetAfter {
		item.Count = 1
		item.FirstOccurrence = now
		item.CooldownUntil = time.Time{}
		item.EscalationLevel = 0
		return false
	}

	if now.Before(item.CooldownUntil) {
		item.Count++
		return true
	}

	item.Count++
	if item.Count >= item.config.MaxOccurrences {
		item.EscalationLevel++
		window := time.Duration(float64(item.config.Duration) *
			math.Pow(item.config.EscalationFactor, float64(item.EscalationLevel)))
		item.CooldownUntil = now.Add(window)
	}
	return false
}

// Snapshot returns a copy of the entry for a record's signature.
func (l *Ledger) Snapshot(rec *taxonomy.Record) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item, ok := l.entries[Signature(rec)]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Len reports how many signatures the ledger currently tracks.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Sweep prunes entries idle for more than twice their reset period and
// returns how many were removed. Safe to run on any schedule.
func (l *Ledger) Sweep() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, item := range l.entries {
		if now.Sub(item.LastOccurrence) > 2*item.config.ResetAfter {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

func (l *Ledger) configFor(kind taxonomy.Kind) Config {
	if cfg, ok := l.configs[kind]; ok {
		return cfg
	}
	return l.fallback
}

// String renders the key for log fields.
func (i Item) String() string {
	return strconv.FormatUint(i.Key, 16)
}
