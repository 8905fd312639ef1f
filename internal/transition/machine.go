package transition

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrIllegalTransition is matched by every *TransitionError.
var ErrIllegalTransition = errors.New("illegal transition")

// TransitionError describes a rejected (previous, incoming) pair
type TransitionError struct {
	Previous string
	Incoming string
	Version  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s cannot follow %s (rules %s)",
		e.Incoming, describe(e.Previous), e.Version)
}

// Is reports whether target is ErrIllegalTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Config holds machine configuration
type Config struct {
	// Table defaults to DefaultTable.
	Table  *Table
	Logger *slog.Logger
}

// Machine validates ADT event ordering. It holds no venue state: callers
// supply the previous event on each call and persist the result of Next.
type Machine struct {
	version   string
	allowed   map[string]map[string]struct{}
	identity  map[string]struct{}
	keepState map[string]struct{}
	logger    *slog.Logger
}

// NewMachine creates a new transition machine
func NewMachine(cfg *Config) (*Machine, error) {
	table := DefaultTable()
	logger := slog.Default()
	if cfg != nil {
		if cfg.Table != nil {
			table = cfg.Table
		}
		if cfg.Logger != nil {
			logger = cfg.Logger
		}
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}

	m := &Machine{
		version:   table.Version,
		allowed:   make(map[string]map[string]struct{}, len(table.Allowed)),
		identity:  codeSet(table.IdentityOnly),
		keepState: codeSet(table.KeepState),
		logger:    logger.With("component", "transition.machine", "rules", table.Version),
	}
	for incoming, previous := range table.Allowed {
		m.allowed[normalize(incoming)] = codeSet(previous)
	}
	return m, nil
}

// Version returns the version of the loaded rule table.
func (m *Machine) Version() string {
	return m.version
}

// IsIdentityOnly reports whether trigger manages patient identity only and
// is therefore accepted in any venue state.
func (m *Machine) IsIdentityOnly(trigger string) bool {
	_, ok := m.identity[normalize(trigger)]
	return ok
}

// ValidateTransition reports whether incoming may follow previous. When it
// may not, reason names both codes. relax accepts every transition.
func (m *Machine) ValidateTransition(previous, incoming string, relax bool) (bool, string) {
	previous, incoming = normalize(previous), normalize(incoming)

	if m.IsIdentityOnly(incoming) {
		return true, ""
	}

	ok, reason := m.lookup(previous, incoming)
	if relax {
		m.logger.Info("transition check relaxed",
			"previous", describe(previous),
			"incoming", incoming,
			"relaxed", true,
			"would_pass", ok)
		return true, ""
	}
	if !ok {
		m.logger.Debug("transition rejected", "previous", describe(previous), "incoming", incoming)
	}
	return ok, reason
}

// Check is ValidateTransition returning a *TransitionError on rejection.
func (m *Machine) Check(previous, incoming string, relax bool) error {
	if ok, _ := m.ValidateTransition(previous, incoming, relax); ok {
		return nil
	}
	return &TransitionError{
		Previous: normalize(previous),
		Incoming: normalize(incoming),
		Version:  m.version,
	}
}

// Next returns the venue state to persist after incoming was accepted.
func (m *Machine) Next(previous, incoming string) string {
	incoming = normalize(incoming)
	if _, ok := m.identity[incoming]; ok {
		return normalize(previous)
	}
	if _, ok := m.keepState[incoming]; ok {
		return normalize(previous)
	}
	return incoming
}

func (m *Machine) lookup(previous, incoming string) (bool, string) {
	legal, known := m.allowed[incoming]
	if !known {
		return false, fmt.Sprintf("no transition rule for trigger %s after %s", incoming, describe(previous))
	}
	if _, ok := legal[previous]; ok {
		return true, ""
	}
	return false, fmt.Sprintf("%s cannot follow %s", incoming, describe(previous))
}

func codeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[normalize(c)] = struct{}{}
	}
	return set
}

func describe(previous string) string {
	if previous == NoState {
		return "no previous event"
	}
	return previous
}
