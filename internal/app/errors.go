package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"tangle/api/internal/apperr"
	"tangle/api/internal/auth"
	"tangle/api/internal/store"
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

// statusClientClosedRequest is recorded when the client went away before the
// response was written.
const statusClientClosedRequest = 499

func invalidUsage(field, message string) error {
	return &apperr.InvalidUsage{Field: field, Message: message}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var notFound *apperr.NotFound
	if errors.As(err, &notFound) {
		return http.StatusNotFound, "NOT_FOUND", "Message not found, try again later", map[string]any{"id": notFound.ID}
	}
	var usage *apperr.InvalidUsage
	if errors.As(err, &usage) {
		var details any
		if usage.Field != "" {
			details = map[string]any{"field": usage.Field}
		}
		return http.StatusBadRequest, "INVALID_USAGE", usage.Error(), details
	}
	var unavailable *store.UnavailableError
	if errors.As(err, &unavailable) {
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Message store unavailable", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, context.Canceled) {
		return statusClientClosedRequest, "CLIENT_CLOSED_REQUEST", "Client closed request", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
