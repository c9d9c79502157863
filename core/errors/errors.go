package errors

import "errors"

type Category string

const (
	CategoryInvalidInput           Category = "invalid_input"
	CategoryMissingFile            Category = "missing_file"
	CategoryParseError             Category = "parse_error"
	CategoryManifestMismatch       Category = "manifest_mismatch"
	CategoryInvalidPhaseTransition Category = "invalid_phase_transition"
	CategoryChainIntegrity         Category = "chain_integrity_violation"
	CategoryMetricsMismatch        Category = "metrics_mismatch"
	CategoryIOFailure              Category = "io_failure"
	CategoryInternalFailure        Category = "internal_failure"
)

type classifiedError struct {
	category Category
	code     string
	hint     string
	cause    error
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

func (e *classifiedError) Category() Category {
	return e.category
}

func (e *classifiedError) Code() string {
	return e.code
}

func (e *classifiedError) Hint() string {
	return e.hint
}

// New builds a classified error from a message with no underlying cause.
func New(category Category, code, message string) error {
	return &classifiedError{
		category: category,
		code:     code,
		cause:    errors.New(message),
	}
}

func Wrap(cause error, category Category, code, hint string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category: category,
		code:     code,
		hint:     hint,
		cause:    cause,
	}
}

func CategoryOf(err error) Category {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified.hint
	}
	return ""
}
