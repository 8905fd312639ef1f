package scenario

import (
	"context"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/savegress/pamflow/internal/hl7v2"
)

// discovered holds the timestamp tokens of one normalized message.
type discovered struct {
	text    string
	trigger string
	tokens  []hl7v2.Timestamp
}

// Shift moves every timestamp of the sequence by one global delta. The first
// token of each message is its primary timestamp: it may receive jitter and
// is kept non-decreasing across the sequence by clamping to the previous
// primary plus one second. Every token keeps its precision class. Messages
// without timestamps are returned unchanged.
func (e *Engine) Shift(ctx context.Context, messages []string, cfg ShiftConfig) ([]string, error) {
	found, err := e.discover(ctx, messages)
	if err != nil {
		return nil, err
	}

	earliest, ok := earliestPrimary(found)
	if !ok {
		return append([]string(nil), messages...), nil
	}
	delta := e.delta(found, earliest, cfg)

	jitterEvents := e.defaultJitter
	if len(cfg.JitterEvents) > 0 {
		jitterEvents = triggerSet(cfg.JitterEvents)
	}

	out := make([]string, len(messages))
	var last *time.Time
	for i, d := range found {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(d.tokens) == 0 {
			out[i] = messages[i]
			continue
		}

		text := d.text
		for j := len(d.tokens) - 1; j >= 0; j-- {
			tok := d.tokens[j]
			shifted := tok.Time.Add(delta)

			if j == 0 {
				if _, ok := jitterEvents[d.trigger]; ok && cfg.jitterEnabled() {
					shifted = shifted.Add(time.Duration(e.drawJitter(cfg)) * time.Minute)
				}
				if last != nil && shifted.Before(*last) {
					shifted = last.Add(time.Second)
				}
				last = &shifted
			}

			text = text[:tok.Start] + tok.Render(shifted) + text[tok.End:]
		}
		out[i] = text
	}

	e.metrics.MessagesShifted(len(messages))
	e.logger.Debug("scenario shifted",
		"messages", len(messages),
		"anchor", cfg.AnchorMode,
		"delta", delta.String())
	return out, nil
}

// ShiftBatch shifts independent scenarios concurrently. Each scenario keeps
// its own delta and monotonic order.
func (e *Engine) ShiftBatch(ctx context.Context, scenarios [][]string, cfg ShiftConfig) ([][]string, error) {
	out := make([][]string, len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, messages := range scenarios {
		g.Go(func() error {
			shifted, err := e.Shift(gctx, messages, cfg)
			if err != nil {
				return err
			}
			out[i] = shifted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// discover finds the tokens of every message in parallel. Discovery is
// independent per message; only the rewrite depends on order.
func (e *Engine) discover(ctx context.Context, messages []string) ([]discovered, error) {
	found := make([]discovered, len(messages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, raw := range messages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text := hl7v2.Normalize(raw)
			found[i] = discovered{
				text:    text,
				trigger: strings.ToUpper(hl7v2.TriggerOf(text)),
				tokens:  hl7v2.FindTimestamps(text, e.loc),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// delta computes the global shift for the configured anchor. Unusable
// anchors fall back to now.
func (e *Engine) delta(found []discovered, earliest time.Time, cfg ShiftConfig) time.Duration {
	now := e.clock()

	switch cfg.AnchorMode {
	case AnchorAdmissionMinusDays:
		if cfg.AnchorDaysOffset > 0 {
			for _, d := range found {
				if _, ok := e.admission[d.trigger]; ok && len(d.tokens) > 0 {
					target := now.AddDate(0, 0, -cfg.AnchorDaysOffset)
					return target.Sub(d.tokens[0].Time)
				}
			}
		}
		e.logger.Info("no admission anchor, shifting to now",
			"days_offset", cfg.AnchorDaysOffset)

	case AnchorFixedStart:
		if target, ok := parseFixedStart(cfg.FixedStart, e.loc); ok {
			return target.Sub(earliest)
		}
		e.logger.Warn("unparseable fixed start, shifting to now", "fixed_start", cfg.FixedStart)
	}

	return now.Sub(earliest)
}

func (e *Engine) drawJitter(cfg ShiftConfig) int {
	lo, hi := cfg.JitterMinMinutes, cfg.JitterMaxMinutes
	if lo > hi {
		lo, hi = hi, lo
	}
	return e.jitter(lo, hi)
}

// earliestPrimary returns the earliest first-token time across the sequence.
func earliestPrimary(found []discovered) (time.Time, bool) {
	var earliest time.Time
	ok := false
	for _, d := range found {
		if len(d.tokens) == 0 {
			continue
		}
		if t := d.tokens[0].Time; !ok || t.Before(earliest) {
			earliest, ok = t, true
		}
	}
	return earliest, ok
}
