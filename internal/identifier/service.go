package identifier

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
)

// Defaults
const (
	DefaultMaxAttempts     = 100
	DefaultSequentialFloor = 1000
)

// Store checks and records issued identifiers. Uniqueness is on the
// (value, type, system) triple.
type Store interface {
	Exists(ctx context.Context, value, idType, system string) (bool, error)
	Insert(ctx context.Context, value, idType, system string) error
	// Delete removes a recorded identifier. Deleting an absent one is not an error.
	Delete(ctx context.Context, value, idType, system string) error
	// MaxNumeric returns the largest numeric value issued for (type, system).
	MaxNumeric(ctx context.Context, idType, system string) (int64, bool, error)
}

// NamespaceSource is the read-only namespace configuration.
type NamespaceSource interface {
	Namespace(ctx context.Context, idType string) (Namespace, bool, error)
	Namespaces(ctx context.Context) ([]Namespace, error)
}

// Metrics receives issuance outcomes
type Metrics interface {
	IdentifierIssued(idType string, mode string)
	IdentifierExhausted(idType string)
}

type nopMetrics struct{}

func (nopMetrics) IdentifierIssued(string, string) {}
func (nopMetrics) IdentifierExhausted(string)      {}

// Generated is an issued identifier value with its uniqueness key.
type Generated struct {
	Value  string `json:"value"`
	Type   string `json:"type"`
	System string `json:"system"`
}

// Config holds service configuration
type Config struct {
	MaxAttempts     int
	SequentialFloor int64
	// Section is the issuance critical section. Services sharing a store in
	// one process should share it; a private one is created when nil.
	Section *CriticalSection
	Metrics Metrics
	Logger  *slog.Logger
}

// Service issues collision-free identifiers
type Service struct {
	store       Store
	namespaces  NamespaceSource
	section     *CriticalSection
	maxAttempts int
	floor       int64
	metrics     Metrics
	logger      *slog.Logger
}

// NewService creates a new identifier service
func NewService(store Store, namespaces NamespaceSource, cfg *Config) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	s := &Service{
		store:       store,
		namespaces:  namespaces,
		section:     cfg.Section,
		maxAttempts: cfg.MaxAttempts,
		floor:       cfg.SequentialFloor,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if s.section == nil {
		s.section = NewCriticalSection()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.floor <= 0 {
		s.floor = DefaultSequentialFloor
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "identifier.service")
	return s
}

// Resolve returns the namespace configured for idType, or an unconfigured
// namespace of that type when none exists.
func (s *Service) Resolve(ctx context.Context, idType string) (Namespace, error) {
	if s.namespaces == nil {
		return Namespace{Type: idType}, nil
	}
	ns, ok, err := s.namespaces.Namespace(ctx, idType)
	if err != nil {
		return Namespace{}, fmt.Errorf("failed to load namespace for %s: %w", idType, err)
	}
	if !ok {
		return Namespace{Type: idType}, nil
	}
	return ns, nil
}

// Generate returns a value that is free at the time of the call. It is not
// serialized: the value must be checked again when it is persisted.
func (s *Service) Generate(ctx context.Context, ns Namespace) (Generated, error) {
	return s.GenerateReserved(ctx, ns, nil)
}

// GenerateReserved is Generate skipping the values held by r. The returned
// value is added to r, so a series of previews sharing r never repeats a
// value. A nil r behaves like Generate.
func (s *Service) GenerateReserved(ctx context.Context, ns Namespace, r *Reservations) (Generated, error) {
	value, err := s.generate(ctx, ns, r)
	if err != nil {
		return Generated{}, err
	}
	r.add(value, ns)
	return Generated{Value: value, Type: ns.Type, System: ns.System}, nil
}

// GenerateAndPersist generates and records a value inside the issuance
// critical section.
func (s *Service) GenerateAndPersist(ctx context.Context, ns Namespace) (Generated, error) {
	var out Generated
	err := s.section.Do(ctx, func() error {
		var err error
		out, err = s.persistLocked(ctx, ns)
		return err
	})
	return out, err
}

// GenerateForType resolves the namespace of idType and generates a value,
// persisting it when persist is set.
func (s *Service) GenerateForType(ctx context.Context, idType string, persist bool) (Generated, error) {
	ns, err := s.Resolve(ctx, idType)
	if err != nil {
		return Generated{}, err
	}
	if persist {
		return s.GenerateAndPersist(ctx, ns)
	}
	return s.Generate(ctx, ns)
}

// Capacity returns the number of values a namespace can issue. The pattern
// figure is an advisory upper bound; unconfigured namespaces report false.
func (s *Service) Capacity(ns Namespace) (int64, bool) {
	if ns.Validate() != nil {
		return 0, false
	}
	switch ns.Mode() {
	case ModeRange:
		return ns.RangeMax - ns.RangeMin + 1, true
	case ModePattern:
		p, _ := ParsePattern(ns.PrefixPattern)
		return p.Space(), true
	default:
		return 0, false
	}
}

// SetTypes names the identifier types of a coordinated set. Episode is optional.
type SetTypes struct {
	Patient string `json:"patient" yaml:"patient"`
	Visit   string `json:"visit" yaml:"visit"`
	Episode string `json:"episode,omitempty" yaml:"episode"`
}

// Set is a coordinated patient, visit and optional episode identifier group.
type Set struct {
	Patient Generated  `json:"patient"`
	Visit   Generated  `json:"visit"`
	Episode *Generated `json:"episode,omitempty"`
}

// GenerateSet issues a coordinated set in one call. When persist is set the
// whole set is issued inside a single critical section, and a failure
// deletes the members already recorded. Previewed members are distinct from
// one another.
func (s *Service) GenerateSet(ctx context.Context, types SetTypes, persist bool) (Set, error) {
	var set Set
	var issued []Generated
	reserved := NewReservations()

	issue := func(idType string) (Generated, error) {
		ns, err := s.Resolve(ctx, idType)
		if err != nil {
			return Generated{}, err
		}
		if !persist {
			return s.GenerateReserved(ctx, ns, reserved)
		}
		g, err := s.persistLocked(ctx, ns)
		if err == nil {
			issued = append(issued, g)
		}
		return g, err
	}

	build := func() error {
		var err error
		if set.Patient, err = issue(types.Patient); err != nil {
			return fmt.Errorf("patient identifier: %w", err)
		}
		if set.Visit, err = issue(types.Visit); err != nil {
			return fmt.Errorf("visit identifier: %w", err)
		}
		if types.Episode != "" {
			episode, err := issue(types.Episode)
			if err != nil {
				return fmt.Errorf("episode identifier: %w", err)
			}
			set.Episode = &episode
		}
		return nil
	}

	var err error
	if persist {
		err = s.section.Do(ctx, func() error {
			if err := build(); err != nil {
				s.rollback(ctx, issued)
				return err
			}
			return nil
		})
	} else {
		err = build()
	}
	if err != nil {
		return Set{}, err
	}
	return set, nil
}

// rollback deletes identifiers recorded by an incomplete set. It runs inside
// the critical section and ignores cancellation of ctx.
func (s *Service) rollback(ctx context.Context, issued []Generated) {
	ctx = context.WithoutCancel(ctx)
	for _, g := range issued {
		if err := s.store.Delete(ctx, g.Value, g.Type, g.System); err != nil {
			s.logger.Error("failed to release identifier of incomplete set",
				"type", g.Type,
				"system", g.System,
				"value", g.Value,
				"error", err)
			continue
		}
		s.logger.Warn("released identifier of incomplete set", "type", g.Type, "system", g.System, "value", g.Value)
	}
}

// persistLocked must run inside the critical section.
func (s *Service) persistLocked(ctx context.Context, ns Namespace) (Generated, error) {
	value, err := s.generate(ctx, ns, nil)
	if err != nil {
		return Generated{}, err
	}
	if err := s.store.Insert(ctx, value, ns.Type, ns.System); err != nil {
		return Generated{}, fmt.Errorf("failed to record identifier %s: %w", value, err)
	}

	s.metrics.IdentifierIssued(ns.Type, string(ns.Mode()))
	s.logger.Debug("identifier issued", "type", ns.Type, "system", ns.System, "mode", ns.Mode())
	return Generated{Value: value, Type: ns.Type, System: ns.System}, nil
}

func (s *Service) generate(ctx context.Context, ns Namespace, r *Reservations) (string, error) {
	if err := ns.Validate(); err != nil {
		return "", err
	}

	switch ns.Mode() {
	case ModeRange:
		space := ns.RangeMax - ns.RangeMin + 1
		return s.draw(ctx, ns, r, space, func(n int64) string {
			return strconv.FormatInt(ns.RangeMin+n, 10)
		})
	case ModePattern:
		p, _ := ParsePattern(ns.PrefixPattern)
		return s.draw(ctx, ns, r, p.Space(), p.Render)
	default:
		return s.next(ctx, ns, r)
	}
}

// draw picks candidates in [0, space) until one is free. Spaces no larger
// than the attempt budget are walked exhaustively in random order, so a
// full pool is always detected.
func (s *Service) draw(ctx context.Context, ns Namespace, r *Reservations, space int64, render func(int64) string) (string, error) {
	attempts := 0
	try := func(n int64) (string, bool, error) {
		attempts++
		candidate := render(n)
		if r.holds(candidate, ns) {
			return candidate, false, nil
		}
		exists, err := s.store.Exists(ctx, candidate, ns.Type, ns.System)
		if err != nil {
			return "", false, fmt.Errorf("failed to check identifier %s: %w", candidate, err)
		}
		return candidate, !exists, nil
	}

	if space <= int64(s.maxAttempts) {
		for _, n := range rand.Perm(int(space)) {
			candidate, free, err := try(int64(n))
			if err != nil {
				return "", err
			}
			if free {
				return candidate, nil
			}
		}
	} else {
		for i := 0; i < s.maxAttempts; i++ {
			candidate, free, err := try(rand.Int64N(space))
			if err != nil {
				return "", err
			}
			if free {
				return candidate, nil
			}
		}
	}

	s.metrics.IdentifierExhausted(ns.Type)
	s.logger.Error("identifier pool exhausted",
		"type", ns.Type,
		"system", ns.System,
		"mode", ns.Mode(),
		"attempts", attempts)
	return "", &ExhaustedError{Namespace: ns, Attempts: attempts}
}

// next issues the value after the largest one recorded, starting at the
// floor and stepping over reserved values.
func (s *Service) next(ctx context.Context, ns Namespace, r *Reservations) (string, error) {
	maxValue, ok, err := s.store.MaxNumeric(ctx, ns.Type, ns.System)
	if err != nil {
		return "", fmt.Errorf("failed to read highest identifier: %w", err)
	}
	n := s.floor
	if ok {
		n = maxValue + 1
	}
	for r.holds(strconv.FormatInt(n, 10), ns) {
		n++
	}
	return strconv.FormatInt(n, 10), nil
}

// Reservations holds values handed out by a series of previews. It is not
// safe for concurrent use.
type Reservations struct {
	held map[reservation]struct{}
}

type reservation struct {
	value  string
	idType string
	system string
}

// NewReservations creates an empty reservation set.
func NewReservations() *Reservations {
	return &Reservations{held: make(map[reservation]struct{})}
}

// Len returns the number of reserved values.
func (r *Reservations) Len() int {
	if r == nil {
		return 0
	}
	return len(r.held)
}

func (r *Reservations) holds(value string, ns Namespace) bool {
	if r == nil {
		return false
	}
	_, ok := r.held[reservation{value, ns.Type, ns.System}]
	return ok
}

func (r *Reservations) add(value string, ns Namespace) {
	if r != nil {
		r.held[reservation{value, ns.Type, ns.System}] = struct{}{}
	}
}
