// Package errors classifies restart failures so the CLI can pick an exit code
// and every rank can tell the failure it detected from the one it only agreed
// to.
package errors

import (
	"errors"
	"fmt"
)

type Category string

const (
	// CategoryInvalidInput covers user-correctable configuration problems.
	CategoryInvalidInput Category = "invalid_input"
	// CategoryVerification covers output files whose content or presence does not match a checkpoint.
	CategoryVerification Category = "verification_failed"
	CategoryIOFailure    Category = "io_failure"
	// CategoryStateContention is reported when another process holds a resource we need exclusively.
	CategoryStateContention Category = "state_contention"
	// CategoryInternalFailure marks broken invariants that an operator cannot fix by changing input.
	CategoryInternalFailure Category = "internal_failure"
	// CategoryParallelConsistency marks ranks or simulations that did not
	// reach the same state.
	CategoryParallelConsistency Category = "parallel_consistency"
)

// Classification is everything a caller may branch on for one error.
type Classification struct {
	Category  Category
	Code      string
	Hint      string
	Retryable bool
	// Echo is set on ranks that abort only because another rank reported a
	// failure.
	Echo bool
}

type classifiedError struct {
	Classification
	cause error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

func Wrap(cause error, category Category, code, hint string, retryable bool) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		Classification: Classification{Category: category, Code: code, Hint: hint, Retryable: retryable},
		cause:          cause,
	}
}

// Newf builds a non-retryable classified error from a formatted message.
func Newf(category Category, code, hint, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), category, code, hint, false)
}

// Echo wraps the error a rank returns when the collective agreed to abort on
// a failure detected elsewhere.
func Echo(cause error, code, hint string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		Classification: Classification{Category: CategoryParallelConsistency, Code: code, Hint: hint, Echo: true},
		cause:          cause,
	}
}

// Classify returns the outermost classification of err, or the zero value.
func Classify(err error) Classification {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.Classification
	}
	return Classification{}
}

func CategoryOf(err error) Category { return Classify(err).Category }

func CodeOf(err error) string { return Classify(err).Code }

func HintOf(err error) string { return Classify(err).Hint }

func RetryableOf(err error) bool { return Classify(err).Retryable }

func IsEcho(err error) bool { return Classify(err).Echo }

// Origin picks the error to report for a set of ranks: the first one that is
// not an echo, else the first echo.
func Origin(errs []error) error {
	var echo error
	for _, err := range errs {
		switch {
		case err == nil:
		case !IsEcho(err):
			return err
		case echo == nil:
			echo = err
		}
	}
	return echo
}
