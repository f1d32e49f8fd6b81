package certificates

import (
	"errors"
	"fmt"
)

// Share-token validation failures, surfaced to the verifier and never retried.
var (
	ErrTokenInactive   = errors.New("share token has been revoked")
	ErrTokenExpired    = errors.New("share token has expired")
	ErrTokenExhausted  = errors.New("share token access limit reached")
	ErrInvalidPassword = errors.New("share token password does not match")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a missing certificate, approval step or share token.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// PermissionError reports a caller lacking a required capability.
type PermissionError struct {
	Actor      string
	Capability string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("actor %s lacks %s capability", e.Actor, e.Capability)
}

// InvalidStateError reports an operation applied in a status that does not
// permit it.
type InvalidStateError struct {
	Operation string
	Current   CertificateStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s certificate in status %q", e.Operation, e.Current)
}

// StorageError wraps a transient backend failure. The transaction boundary
// guarantees no partial state was left behind, so callers may retry.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RenderingError wraps an artifact-renderer failure; it is fatal to issuance
// and distinct from lifecycle errors.
type RenderingError struct {
	Err error
}

func (e *RenderingError) Error() string {
	return fmt.Sprintf("artifact rendering failed: %v", e.Err)
}

func (e *RenderingError) Unwrap() error { return e.Err }
