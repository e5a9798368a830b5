package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrMalformedEvent means both the before and after states were absent.
	// Not retryable.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrMissingAggregateTarget means a household, member or category document
	// did not exist at transaction time. Redelivery will not fix it.
	ErrMissingAggregateTarget = errors.New("missing aggregate target")

	// ErrTransactionConflict means the optimistic retry budget was exhausted.
	// Retryable by redelivering the originating event.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrPartialScanFailure means at least one household failed during a rollup run.
	ErrPartialScanFailure = errors.New("partial scan failure")
)

// TargetError carries the routing context of a missing aggregate document.
type TargetError struct {
	Path   string
	Params map[string]string
}

func (e *TargetError) Error() string {
	if len(e.Params) == 0 {
		return fmt.Sprintf("%s: %s", ErrMissingAggregateTarget, e.Path)
	}
	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Params[k])
	}
	return fmt.Sprintf("%s: %s (%s)", ErrMissingAggregateTarget, e.Path, strings.Join(parts, " "))
}

func (e *TargetError) Unwrap() error {
	return ErrMissingAggregateTarget
}

// MissingTarget builds a TargetError for path.
func MissingTarget(path string, params map[string]string) error {
	return &TargetError{Path: path, Params: params}
}

// ScanFailure records one household that could not be rolled up.
type ScanFailure struct {
	HouseholdID string
	Err         error
}

func (f ScanFailure) Error() string {
	return fmt.Sprintf("household %s: %v", f.HouseholdID, f.Err)
}

func (f ScanFailure) Unwrap() error {
	return f.Err
}

// PartialScanError aggregates every per-household failure of one run.
type PartialScanError struct {
	Month    MonthKey
	Failures []ScanFailure
}

func (e *PartialScanError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%s for %s (%d households): %s",
		ErrPartialScanFailure, e.Month, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *PartialScanError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrPartialScanFailure)
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}

// IsRetryable reports whether redelivering the originating event may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedEvent) || errors.Is(err, ErrMissingAggregateTarget) {
		return false
	}
	return true
}
