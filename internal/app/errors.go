package app

import (
	"fmt"
	"net/http"
)

// Kind is the stable failure category returned alongside every error code.
type Kind string

const (
	KindValidation    Kind = "ValidationError"
	KindAuthorization Kind = "AuthorizationError"
	KindStateConflict Kind = "StateConflict"
	KindRouting       Kind = "RoutingFailure"
	KindNotFound      Kind = "NotFound"
	KindCredential    Kind = "CredentialError"
	KindUnavailable   Kind = "Unavailable"
	KindInternal      Kind = "InternalError"
)

type DomainError struct {
	Status  int
	Kind    Kind
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, kind Kind, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Kind:    kind,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, KindValidation, "VALIDATION_ERROR", message, nil)
}

func forbidden(message string) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	return domainError(http.StatusForbidden, KindAuthorization, "FORBIDDEN", message, nil)
}

func unauthorized() *DomainError {
	return domainError(http.StatusUnauthorized, KindAuthorization, "UNAUTHORIZED", "Unauthorized", nil)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, KindNotFound, "NOT_FOUND", what+" not found", nil)
}

// stateConflict carries the authoritative status so the caller can resync.
func stateConflict(code, message, current string) *DomainError {
	return domainError(http.StatusConflict, KindStateConflict, code, message, map[string]any{"currentStatus": current})
}

func invalidCredentials() *DomainError {
	return domainError(http.StatusUnauthorized, KindCredential, "INVALID_CREDENTIALS", "Invalid sensor credentials", nil)
}
