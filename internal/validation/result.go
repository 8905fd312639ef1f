package validation

// Severity grades a validation issue. Only errors invalidate a message.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Mode tells a validator what it was handed. The same segment can be graded
// differently in isolation and inside a full message, so callers state it.
type Mode int

const (
	// ModeSegment validates one or more segments without message context.
	ModeSegment Mode = iota
	// ModeMessage validates a complete message, including required segments.
	ModeMessage
)

func (m Mode) String() string {
	if m == ModeMessage {
		return "message"
	}
	return "segment"
}

// Issue is a single validation finding
type Issue struct {
	Severity Severity `json:"severity"`
	Segment  string   `json:"segment"`
	Field    string   `json:"field,omitempty"`
	Value    string   `json:"value,omitempty"`
	Line     int      `json:"line"`
	Message  string   `json:"message"`
}

// Result holds ordered errors and warnings. Valid is true when no error was found.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

// Issues returns errors followed by warnings.
func (r Result) Issues() []Issue {
	out := make([]Issue, 0, len(r.Errors)+len(r.Warnings))
	out = append(out, r.Errors...)
	return append(out, r.Warnings...)
}

// Validator checks a raw message or segment
type Validator interface {
	Name() string
	Validate(raw string, mode Mode) Result
}
