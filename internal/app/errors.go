package app

import (
	"errors"
	"fmt"
	"net/http"

	"taskflow/internal/attachments"
	"taskflow/internal/auth"
	"taskflow/internal/authpw"
	"taskflow/internal/store"
	"taskflow/internal/workflow"
)

type DomainError struct {
	Status  int
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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(entity string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", entity+" not found", nil)
}

// forbidden never says which rule denied the request.
func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func validation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func conflict(message string) *DomainError {
	return domainError(http.StatusBadRequest, "CONFLICT", message, nil)
}

func invalidTransition(err *workflow.TransitionError) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_TRANSITION", err.Error(), map[string]any{
		"from":    err.From,
		"to":      err.To,
		"allowed": err.AllowedTargets(),
	})
}

// mapError turns any error returned by the service into the HTTP envelope.
// Unknown errors become a 500 without details.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var transitionErr *workflow.TransitionError
	if errors.As(err, &transitionErr) {
		mapped := invalidTransition(transitionErr)
		return mapped.Status, mapped.Code, mapped.Message, mapped.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrActiveSprintExists):
		return http.StatusBadRequest, "CONFLICT", "Another sprint is already active in this project", nil
	case errors.Is(err, store.ErrStaleState):
		return http.StatusBadRequest, "CONFLICT", "The resource changed while it was being updated; reload and retry", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusBadRequest, "CONFLICT", "Conflicting change", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrAccountDisabled):
		return http.StatusForbidden, "ACCOUNT_DISABLED", "Account is disabled", nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusBadRequest, "EMAIL_EXISTS", "Email already registered", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, attachments.ErrDisabled):
		return http.StatusUnprocessableEntity, "ATTACHMENTS_DISABLED", "Attachment storage is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
