// Package scenario rewrites recorded HL7 message sequences so that they can
// be replayed safely: timestamps are moved to a new anchor and patient and
// visit identifiers are replaced with freshly issued ones.
package scenario

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/identifier"
)

// Metrics receives engine and replay outcomes
type Metrics interface {
	MessagesShifted(n int)
	ReplayStep(status string)
}

type nopMetrics struct{}

func (nopMetrics) MessagesShifted(int) {}
func (nopMetrics) ReplayStep(string)   {}

// Config holds engine configuration
type Config struct {
	Tables      *Tables
	Identifiers *identifier.Service
	// Location reads timestamps that carry no zone suffix. Defaults to time.Local.
	Location *time.Location
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Jitter returns a uniform integer in [lo, hi]. Defaults to math/rand.
	Jitter  func(lo, hi int) int
	Metrics Metrics
	Logger  *slog.Logger
}

// Engine builds replayable scenarios
type Engine struct {
	tables        *Tables
	admission     map[string]struct{}
	defaultJitter map[string]struct{}
	ids           *identifier.Service
	decoder       *hl7v2.Decoder
	loc           *time.Location
	clock         func() time.Time
	jitter        func(lo, hi int) int
	metrics       Metrics
	logger        *slog.Logger
}

// NewEngine creates a new scenario engine
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	e := &Engine{
		tables:  cfg.Tables,
		ids:     cfg.Identifiers,
		loc:     cfg.Location,
		clock:   cfg.Clock,
		jitter:  cfg.Jitter,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if e.tables == nil {
		e.tables = DefaultTables()
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.jitter == nil {
		e.jitter = uniformJitter()
	}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "scenario.engine")
	e.decoder = hl7v2.NewDecoder(&hl7v2.DecoderConfig{Logger: e.logger})
	e.admission = triggerSet(e.tables.AdmissionEvents)
	e.defaultJitter = triggerSet(e.tables.JitterEvents)
	return e
}

// Tables returns the lookup tables in use.
func (e *Engine) Tables() *Tables {
	return e.tables
}

func uniformJitter() func(lo, hi int) int {
	var mu sync.Mutex
	r := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return func(lo, hi int) int {
		mu.Lock()
		defer mu.Unlock()
		return lo + r.IntN(hi-lo+1)
	}
}

// Step summarizes one message of a sequence.
type Step struct {
	Index      int    `json:"index"`
	Trigger    string `json:"trigger"`
	ControlID  string `json:"control_id"`
	Venue      string `json:"venue"`
	Timestamp  string `json:"timestamp,omitempty"`
	Nature     string `json:"nature,omitempty"`
	Timestamps int    `json:"timestamps"`
}

// Inspect summarizes a sequence without changing it. The movement nature is
// read from ZBE-9 and falls back to the trigger's default.
func (e *Engine) Inspect(messages []string) []Step {
	steps := make([]Step, 0, len(messages))
	for i, raw := range messages {
		h := hl7v2.ParseHeader(raw)
		found := hl7v2.FindTimestamps(hl7v2.Normalize(raw), e.loc)

		step := Step{
			Index:      i,
			Trigger:    string(h.TriggerEvent),
			ControlID:  h.ControlID,
			Venue:      e.VenueOf(raw),
			Timestamps: len(found),
			Nature:     e.decoder.ParseZBE(raw).Nature,
		}
		if len(found) > 0 {
			step.Timestamp = found[0].Text
		}
		if step.Nature == "" {
			step.Nature = e.tables.NatureDefaults[strings.ToUpper(step.Trigger)]
		}
		steps = append(steps, step)
	}
	return steps
}

// VenueOf returns the key under which the venue state of raw is kept: the
// visit number, else the first patient identifier.
func (e *Engine) VenueOf(raw string) string {
	if visit := e.decoder.ParsePV1(raw).VisitNumber; visit != "" {
		return "visit:" + visit
	}
	if ids := e.decoder.ParsePID(raw).Identifiers; len(ids) > 0 {
		return "patient:" + ids[0].Value
	}
	return "unknown"
}
