// Package apperr holds the user-facing error taxonomy shared by the identity
// provider, the session store, the API client and the role resolver.
package apperr

import (
	"errors"
	"fmt"
)

// InvalidCredentialsError is returned when the identity provider rejects an
// email/password pair. Shown inline on the sign-in form.
type InvalidCredentialsError struct {
	Email string
}

func (e *InvalidCredentialsError) Error() string {
	return "invalid email or password"
}

// PopupClosedError is returned when the user abandons a federated sign-in
// (consent screen dismissed or denied).
type PopupClosedError struct {
	Provider string
}

func (e *PopupClosedError) Error() string {
	return fmt.Sprintf("%s sign-in was cancelled", e.Provider)
}

// NetworkError wraps a transport failure where no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("network error: %v", e.Err)
	}
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// UnauthorizedError is returned for a 401 response. The session has already
// been terminated when a caller observes it.
type UnauthorizedError struct {
	Method string
	Path   string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s %s", e.Method, e.Path)
}

// ForbiddenError is returned for a 403 response. The session is kept.
type ForbiddenError struct {
	Method string
	Path   string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s %s", e.Method, e.Path)
}

// RequestError is any other non-2xx backend response.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Body)
}

// RoleResolutionError means the backend could not tell us the role for an
// email. Route guards treat it as a denial.
type RoleResolutionError struct {
	Email string
	Err   error
}

func (e *RoleResolutionError) Error() string {
	return fmt.Sprintf("resolving role for %s: %v", e.Email, e.Err)
}

func (e *RoleResolutionError) Unwrap() error {
	return e.Err
}

// IsSessionTerminating reports whether err ended the current session.
func IsSessionTerminating(err error) bool {
	var unauthorized *UnauthorizedError
	return errors.As(err, &unauthorized)
}

// IsRecoverable reports whether the session survives err. Everything except
// a 401 leaves the user signed in.
func IsRecoverable(err error) bool {
	return err != nil && !IsSessionTerminating(err)
}

// IsAuthorizationFailure reports whether err was already handled centrally
// (notification and redirect) by the API client.
func IsAuthorizationFailure(err error) bool {
	var forbidden *ForbiddenError
	return IsSessionTerminating(err) || errors.As(err, &forbidden)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var reqErr *RequestError
	var unauthorized *UnauthorizedError
	var forbidden *ForbiddenError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.Status
	case errors.As(err, &unauthorized):
		return 401
	case errors.As(err, &forbidden):
		return 403
	}
	return 0
}
