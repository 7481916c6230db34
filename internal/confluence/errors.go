package confluence

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for resource level outcomes
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// NotFoundError reports a space, page or attachment the service does not have
type NotFoundError struct {
	Resource string
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// AuthError reports rejected credentials (401) or missing permission (403)
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// MissingSpacesError lists requested space keys that could not be resolved.
// It accompanies a partial result and is not fatal on its own.
type MissingSpacesError struct {
	Keys []string
}

func (e *MissingSpacesError) Error() string {
	return fmt.Sprintf("spaces not found: %s", strings.Join(e.Keys, ", "))
}
