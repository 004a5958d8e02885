package apperrors

import "errors"

// Error kinds. Wrap them with eris and classify with errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrNormalization       = errors.New("normalization error")
	ErrPersistence         = errors.New("persistence error")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrNotFound            = errors.New("not found")
)

// Code returns the stable machine-readable code for err's kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNormalization):
		return "normalization_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}
