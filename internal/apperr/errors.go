// Package apperr defines the error taxonomy shared by the asset pipeline.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotReachable is returned before any transfer or resolve work starts
	// when the collection root cannot be reached. It is never retried.
	ErrNotReachable = errors.New("collection root not reachable")

	ErrSourceMissing   = errors.New("source file missing")
	ErrDecodeFailure   = errors.New("image decode failed")
	ErrPartialTransfer = errors.New("partial transfer")

	ErrResolveNotFound = errors.New("layered file not found")
	// ErrNothingResolved means a batch was resolved and every path missed.
	ErrNothingResolved = errors.New("no layered files resolved")
	// ErrNothingSubmitted means an operation was called with zero paths.
	ErrNothingSubmitted = errors.New("no files submitted")
)
