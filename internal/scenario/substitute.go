package scenario

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/identifier"
)

// ErrNoIdentifierService is returned when substitution is requested from an
// engine built without an identifier service.
var ErrNoIdentifierService = errors.New("scenario: no identifier service configured")

// Namespaces selects the namespaces that issue replacement identifiers.
type Namespaces struct {
	Patient identifier.Namespace `json:"patient"`
	Visit   identifier.Namespace `json:"visit"`
}

// Substitution is one original identifier and its replacement.
type Substitution struct {
	Kind        string `json:"kind"`
	Field       string `json:"field"`
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Type        string `json:"type"`
	System      string `json:"system"`
}

const (
	kindPatient = "patient"
	kindVisit   = "visit"
)

// SubstituteIdentifiers replaces the patient identifier (PID-3, and MRG-1 of
// merges) and the visit number (PV1-19) of every message with persisted
// identifiers. An original value maps to the same replacement throughout the
// sequence. Only the first repetition is rewritten: its ID and assigning
// authority change and its other components are kept.
func (e *Engine) SubstituteIdentifiers(ctx context.Context, messages []string, ns Namespaces) ([]string, []Substitution, error) {
	return e.substitute(ctx, messages, ns, true)
}

// PreviewSubstitution computes the substitutions without persisting
// identifiers or changing messages. Replacements within one preview are
// distinct; they are not reserved in the store.
func (e *Engine) PreviewSubstitution(ctx context.Context, messages []string, ns Namespaces) ([]Substitution, error) {
	_, subs, err := e.substitute(ctx, messages, ns, false)
	return subs, err
}

func (e *Engine) substitute(ctx context.Context, messages []string, ns Namespaces, persist bool) ([]string, []Substitution, error) {
	if e.ids == nil {
		return nil, nil, ErrNoIdentifierService
	}

	mapping := make(map[string]string)
	subs := []Substitution{}
	reserved := identifier.NewReservations()

	replacement := func(kind, field, original string) (string, error) {
		key := kind + "\x00" + original
		if v, ok := mapping[key]; ok {
			return v, nil
		}

		target := ns.Patient
		if kind == kindVisit {
			target = ns.Visit
		}

		var g identifier.Generated
		var err error
		if persist {
			g, err = e.ids.GenerateAndPersist(ctx, target)
		} else {
			g, err = e.ids.GenerateReserved(ctx, target, reserved)
		}
		if err != nil {
			return "", err
		}

		mapping[key] = g.Value
		subs = append(subs, Substitution{
			Kind:        kind,
			Field:       field,
			Original:    original,
			Replacement: g.Value,
			Type:        g.Type,
			System:      g.System,
		})
		return g.Value, nil
	}

	out := make([]string, len(messages))
	for i, raw := range messages {
		segments := strings.Split(hl7v2.Normalize(raw), hl7v2.SegmentTerminator)
		changed := false

		for j, seg := range segments {
			var kind string
			var n int
			switch hl7v2.SegmentCode(seg) {
			case "PID":
				kind, n = kindPatient, 3
			case "MRG":
				kind, n = kindPatient, 1
			case "PV1":
				kind, n = kindVisit, 19
			default:
				continue
			}

			fields := hl7v2.Fields(seg)
			if n >= len(fields) {
				continue
			}
			original := strings.TrimSpace(hl7v2.Component(firstRep(fields[n]), 1))
			if original == "" {
				continue
			}

			target := ns.Patient
			if kind == kindVisit {
				target = ns.Visit
			}
			value, err := replacement(kind, hl7v2.SegmentCode(seg)+"-"+strconv.Itoa(n), original)
			if err != nil {
				return nil, nil, err
			}

			fields[n] = rewriteCX(fields[n], value, target.AssigningAuthority(), target.Type)
			segments[j] = strings.Join(fields, hl7v2.FieldSeparator)
			changed = true
		}

		if changed {
			out[i] = strings.Join(segments, hl7v2.SegmentTerminator)
		} else {
			out[i] = raw
		}
	}

	if persist {
		e.logger.Info("identifiers substituted", "messages", len(messages), "substitutions", len(subs))
	}
	return out, subs, nil
}

// rewriteCX sets CX.1 and CX.4 of the first repetition, and CX.5 when it is
// empty. Other components and repetitions are kept.
func rewriteCX(field, value, authority, idType string) string {
	reps := strings.Split(field, hl7v2.RepetitionSeparator)
	comps := hl7v2.Components(reps[0])
	original := len(comps)
	for len(comps) < 5 {
		comps = append(comps, "")
	}

	comps[0] = value
	if authority != "" {
		comps[3] = authority
	}
	if comps[4] == "" {
		comps[4] = idType
	}

	keep := original
	for i := len(comps) - 1; i >= original; i-- {
		if comps[i] != "" {
			keep = i + 1
			break
		}
	}
	reps[0] = strings.Join(comps[:keep], hl7v2.ComponentSeparator)
	return strings.Join(reps, hl7v2.RepetitionSeparator)
}

func firstRep(field string) string {
	reps := hl7v2.Repetitions(field)
	if len(reps) == 0 {
		return ""
	}
	return reps[0]
}
