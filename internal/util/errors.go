// Package util provides shared error types and context helpers for the
// gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrRouteNotFound.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., UpstreamError, TransformError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrRouteNotFound = errors.New("route not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrBadGateway    = errors.New("bad gateway")
	ErrTimeout       = errors.New("gateway timeout")
	ErrTransform     = errors.New("transformation failed")
	ErrConflict      = errors.New("conflict")
)

// RouteNotFoundError indicates no registered route matched a request.
type RouteNotFoundError struct {
	Method string
	Path   string
}

// Error implements the error interface.
func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route found for %s %s", e.Method, e.Path)
}

// Is checks if the error matches the target.
func (e *RouteNotFoundError) Is(target error) bool {
	if target == ErrRouteNotFound {
		return true
	}
	_, ok := target.(*RouteNotFoundError)
	return ok
}

// NewRouteNotFoundError creates a new RouteNotFoundError.
func NewRouteNotFoundError(method, path string) *RouteNotFoundError {
	return &RouteNotFoundError{Method: method, Path: path}
}

// UpstreamError indicates a transport-level failure reaching an upstream, or
// a target URL that could not be built. Non-2xx upstream statuses are results,
// not errors, and never produce an UpstreamError.
type UpstreamError struct {
	Target  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s: %s: %v", e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream %s: %s", e.Target, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	if target == ErrBadGateway {
		return true
	}
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(target, message string, cause error) *UpstreamError {
	return &UpstreamError{Target: target, Message: message, Cause: cause}
}

// TimeoutError indicates that an upstream call or transformation exceeded its
// time budget.
type TimeoutError struct {
	Operation string
	Budget    time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s", e.Budget, e.Operation)
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, budget time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Budget: budget}
}

// TransformError indicates a compile or runtime failure in administrator-
// supplied transformation code.
type TransformError struct {
	RouteID   string
	Direction string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *TransformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transform %s/%s: %s: %v", e.RouteID, e.Direction, e.Message, e.Cause)
	}
	return fmt.Sprintf("transform %s/%s: %s", e.RouteID, e.Direction, e.Message)
}

// Unwrap returns the underlying error.
func (e *TransformError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TransformError) Is(target error) bool {
	if target == ErrTransform {
		return true
	}
	_, ok := target.(*TransformError)
	return ok || errors.Is(e.Cause, target)
}

// NewTransformError creates a new TransformError.
func NewTransformError(routeID, direction, message string, cause error) *TransformError {
	return &TransformError{RouteID: routeID, Direction: direction, Message: message, Cause: cause}
}

// ConflictError indicates an administrative write violating the uniqueness
// invariant on (sourcePattern, method, tenantId) among active routes.
type ConflictError struct {
	SourcePattern string
	Method        string
	TenantID      string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.TenantID != "" {
		return fmt.Sprintf("route conflict: %s %s already registered for tenant %s",
			e.Method, e.SourcePattern, e.TenantID)
	}
	return fmt.Sprintf("route conflict: %s %s already registered", e.Method, e.SourcePattern)
}

// Is checks if the error matches the target.
func (e *ConflictError) Is(target error) bool {
	if target == ErrConflict {
		return true
	}
	_, ok := target.(*ConflictError)
	return ok
}

// NewConflictError creates a new ConflictError.
func NewConflictError(sourcePattern, method, tenantID string) *ConflictError {
	return &ConflictError{SourcePattern: sourcePattern, Method: method, TenantID: tenantID}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
