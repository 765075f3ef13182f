package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid job status transition")

	// Job store faults
	ErrStorage = errors.New("storage fault")
	ErrParse   = errors.New("malformed persisted record")

	// Pipeline faults
	ErrConflict     = errors.New("content store conflict")
	ErrContentStore = errors.New("content store error")
	ErrGeneration   = errors.New("generation failed")
	ErrDelivery     = errors.New("webhook delivery failed")

	// ErrValidation is returned at submission time; no job is created.
	ErrValidation = errors.New("validation failed")
)
