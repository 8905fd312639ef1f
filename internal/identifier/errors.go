package identifier

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPattern is returned for prefix patterns that cannot generate values.
	ErrInvalidPattern = errors.New("invalid identifier pattern")
	// ErrInvalidRange is returned for empty or inverted ranges.
	ErrInvalidRange = errors.New("invalid identifier range")
	// ErrPoolExhausted is matched by every *ExhaustedError.
	ErrPoolExhausted = errors.New("identifier pool exhausted")
	// ErrDuplicate is returned by stores when a (value, type, system) triple exists.
	ErrDuplicate = errors.New("identifier already exists")
)

// ExhaustedError reports that no free value was found for a namespace
type ExhaustedError struct {
	Namespace Namespace
	Attempts  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("identifier pool exhausted after %d attempts: %s namespace %s (type=%s system=%s)",
		e.Attempts, e.Namespace.Mode(), e.Namespace.describe(), e.Namespace.Type, e.Namespace.System)
}

// Is reports whether target is ErrPoolExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}
