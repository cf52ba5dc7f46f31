package evolution

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDegenerateGeneration is returned when a generation has no modules to rank.
	ErrDegenerateGeneration = errors.New("degenerate generation: no modules to rank")

	// ErrIncompleteModule is returned when a module reaches ranking without an evaluation.
	ErrIncompleteModule = errors.New("module has not been evaluated")

	// ErrInvariantViolation is returned when a round's final state breaks a succession invariant.
	ErrInvariantViolation = errors.New("succession invariant violated")
)

// PartialWriteError reports output artifacts that failed to persist at the end
// of a round. Artifacts written successfully are not rolled back.
type PartialWriteError struct {
	RoundID  string
	Failures map[string]error
}

// Error implements the error interface
func (e *PartialWriteError) Error() string {
	names := e.Artifacts()
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("round %s: %d artifact(s) failed to write: %s",
		e.RoundID, len(names), strings.Join(parts, "; "))
}

// Artifacts returns the failed artifact names in sorted order.
func (e *PartialWriteError) Artifacts() []string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unwrap exposes the individual write errors to errors.Is / errors.As.
func (e *PartialWriteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, name := range e.Artifacts() {
		errs = append(errs, e.Failures[name])
	}
	return errs
}
