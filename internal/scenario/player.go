package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/transition"
)

// Sender delivers one message and returns the acknowledgment text
type Sender interface {
	Send(ctx context.Context, message string) (string, error)
}

// VenueStore keeps the last accepted trigger per venue
type VenueStore interface {
	LastTrigger(ctx context.Context, venue string) (string, error)
	SetLastTrigger(ctx context.Context, venue, trigger string) error
}

// Step statuses
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusNack     = "nack"
	StatusFailed   = "failed"
)

// AckError reports a negative or unreadable acknowledgment
type AckError struct {
	Index int
	Code  string
	Text  string
}

func (e *AckError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("message %d: unreadable acknowledgment", e.Index)
	}
	return fmt.Sprintf("message %d: acknowledgment %s: %s", e.Index, e.Code, e.Text)
}

// PlayerConfig holds player configuration
type PlayerConfig struct {
	Machine *transition.Machine
	Venues  VenueStore
	Sender  Sender
	Engine  *Engine
	Metrics Metrics
	Logger  *slog.Logger
}

// Player replays a sequence against a receiving system. Each trigger is
// checked against the venue's previous event before it is sent, and the
// venue state advances only on a positive acknowledgment.
type Player struct {
	machine *transition.Machine
	venues  VenueStore
	sender  Sender
	engine  *Engine
	metrics Metrics
	logger  *slog.Logger
}

// NewPlayer creates a new scenario player
func NewPlayer(cfg *PlayerConfig) *Player {
	p := &Player{
		machine: cfg.Machine,
		venues:  cfg.Venues,
		sender:  cfg.Sender,
		engine:  cfg.Engine,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if p.engine == nil {
		p.engine = NewEngine(nil)
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "scenario.player")
	return p
}

// PlayOptions controls one replay.
type PlayOptions struct {
	// Relax sends every message whatever the venue state.
	Relax bool `json:"relax"`
	// Pause waits between messages.
	Pause time.Duration `json:"pause,omitempty"`
}

// StepResult is the outcome of one message.
type StepResult struct {
	Index     int    `json:"index"`
	Trigger   string `json:"trigger"`
	ControlID string `json:"control_id"`
	Venue     string `json:"venue"`
	Previous  string `json:"previous"`
	Status    string `json:"status"`
	AckCode   string `json:"ack_code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Report describes a replay. Completed is true when every message was
// accepted.
type Report struct {
	RunID     string       `json:"run_id"`
	Steps     []StepResult `json:"steps"`
	Accepted  int          `json:"accepted"`
	Completed bool         `json:"completed"`
}

// Play sends messages in order and stops at the first rejected transition,
// negative acknowledgment or transport failure. The report is returned in
// every case; the error tells why the replay stopped.
func (p *Player) Play(ctx context.Context, messages []string, opts PlayOptions) (*Report, error) {
	report := &Report{RunID: uuid.New().String(), Steps: []StepResult{}}
	logger := p.logger.With("run_id", report.RunID)

	for i, raw := range messages {
		if i > 0 && opts.Pause > 0 {
			select {
			case <-time.After(opts.Pause):
			case <-ctx.Done():
				return report, ctx.Err()
			}
		}

		h := hl7v2.ParseHeader(raw)
		step := StepResult{
			Index:     i,
			Trigger:   string(h.TriggerEvent),
			ControlID: h.ControlID,
			Venue:     p.engine.VenueOf(raw),
		}

		err := p.playOne(ctx, raw, &step, opts)
		report.Steps = append(report.Steps, step)
		p.metrics.ReplayStep(step.Status)
		if err != nil {
			logger.Warn("replay stopped",
				"index", i,
				"trigger", step.Trigger,
				"status", step.Status,
				"error", err)
			return report, err
		}
		report.Accepted++
	}

	report.Completed = true
	logger.Info("replay completed", "messages", len(messages))
	return report, nil
}

func (p *Player) playOne(ctx context.Context, raw string, step *StepResult, opts PlayOptions) error {
	previous, err := p.venues.LastTrigger(ctx, step.Venue)
	if err != nil {
		step.Status = StatusFailed
		step.Detail = err.Error()
		return fmt.Errorf("failed to read venue state: %w", err)
	}
	step.Previous = previous

	if err := p.machine.Check(previous, step.Trigger, opts.Relax); err != nil {
		step.Status = StatusRejected
		step.Detail = err.Error()
		return err
	}

	reply, err := p.sender.Send(ctx, raw)
	if err != nil {
		step.Status = StatusFailed
		step.Detail = err.Error()
		return fmt.Errorf("failed to send message %d: %w", step.Index, err)
	}

	ack, ok := hl7v2.ParseAck(reply)
	step.AckCode = ack.Code
	if !ok || !ack.Accepted() {
		step.Status = StatusNack
		step.Detail = ack.Text
		return &AckError{Index: step.Index, Code: ack.Code, Text: ack.Text}
	}

	next := p.machine.Next(previous, step.Trigger)
	if err := p.venues.SetLastTrigger(ctx, step.Venue, next); err != nil {
		step.Status = StatusFailed
		step.Detail = err.Error()
		return fmt.Errorf("failed to write venue state: %w", err)
	}

	step.Status = StatusAccepted
	return nil
}
