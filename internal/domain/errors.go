package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError defines errors that can be mapped to HTTP status codes.
type HTTPError interface {
	error
	StatusCode() int
}

// Domain error types implementing HTTPError interface
type (
	// NotFoundError indicates a resource was not found
	NotFoundError struct {
		Message string
	}

	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
	}
)

func (e *NotFoundError) Error() string   { return e.Message }
func (e *ValidationError) Error() string { return e.Message }

func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

// Is allows errors.Is() to match the sentinel counterparts
func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrValidation = errors.New("validation failed")

	// ErrCollectionUnavailable marks a collection whose fetch failed.
	// Callers render a degraded state; nothing retries automatically.
	ErrCollectionUnavailable = errors.New("collection unavailable")

	// ErrMissingStructure is returned when full detail is requested for an id
	// that the structural collection does not contain.
	ErrMissingStructure = errors.New("item missing from structure collection")

	// ErrNotReturned is returned to waiters whose id was sent in a batch
	// but did not come back in the response.
	ErrNotReturned = errors.New("item not returned by bulk fetch")

	// ErrStaleGeneration marks a render result superseded by a newer pass.
	ErrStaleGeneration = errors.New("stale render generation")

	// ErrClosed is returned by components used after Close.
	ErrClosed = errors.New("closed")
)

// FetchError carries the collection or batch a network failure belongs to.
// It unwraps to both the cause and ErrCollectionUnavailable.
type FetchError struct {
	Source string // collection kind or "batch"
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrCollectionUnavailable, e.Err}
}

// StatusCode implements HTTPError; upstream failures surface as 502
func (e *FetchError) StatusCode() int {
	return http.StatusBadGateway
}

// ConflictError represents a resource conflict with details about the existing resource
type ConflictError struct {
	Message      string
	ResourceType string
	ResourceID   string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Is allows errors.Is() to match against ErrConflict
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
