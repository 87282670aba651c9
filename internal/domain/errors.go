package domain

import "errors"

var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates invalid input data.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformedInput indicates a document is not a well-formed JSON value.
	ErrMalformedInput = errors.New("malformed input")

	// ErrIncompleteComparison indicates a results folder lacks two responses.
	ErrIncompleteComparison = errors.New("not enough response files for comparison")

	// ErrValidationFailed indicates JSON schema validation failed.
	ErrValidationFailed = errors.New("validation failed")
)
