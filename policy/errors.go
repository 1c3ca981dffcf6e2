package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrApplyInProgress is returned when a second Apply is attempted while
	// one is already in flight. No state change occurs; retry with backoff.
	ErrApplyInProgress = errors.New("policy: apply in progress")

	// ErrNoHealthyEgress is returned when even the default egress point is
	// down. It signals misconfiguration and must be propagated, never
	// papered over by picking an arbitrary egress.
	ErrNoHealthyEgress = errors.New("policy: no healthy egress")

	// ErrRuleNotFound is returned by store lookups and draft replays that
	// reference a rule id absent from the rule set.
	ErrRuleNotFound = errors.New("policy: rule not found")
)

// ValidationKind classifies a validation failure.
type ValidationKind string

const (
	ValidationMissingRef      ValidationKind = "missing_reference"
	ValidationInvalidPriority ValidationKind = "invalid_priority"
	ValidationMissingDefault  ValidationKind = "missing_default"
	ValidationMissingGroup    ValidationKind = "missing_group"
	ValidationInvalidField    ValidationKind = "invalid_field"
	ValidationConflict        ValidationKind = "conflict"
)

// ValidationError describes one structural problem in a candidate rule set.
// Kind and the offending rule/field are carried so a caller can present an
// actionable message.
type ValidationError struct {
	Kind  ValidationKind `json:"kind"`
	Rule  string         `json:"rule,omitempty"`
	Field string         `json:"field,omitempty"`
	Msg   string         `json:"msg"`
	// Warning marks non-fatal findings; Apply succeeds if every error in the
	// result is a warning.
	Warning bool `json:"warning,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s: rule %s: %s", e.Kind, e.Rule, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Fatal reports whether errs contains at least one non-warning error.
func Fatal(errs []*ValidationError) bool {
	return FirstFatal(errs) != nil
}

// FirstFatal returns the first non-warning error in errs, or nil.
func FirstFatal(errs []*ValidationError) error {
	for _, e := range errs {
		if !e.Warning {
			return e
		}
	}
	return nil
}
