package app

import (
	"fmt"
	"net/http"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION", message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func ownershipViolation() *DomainError {
	return domainError(http.StatusForbidden, "OWNERSHIP_VIOLATION", "caller does not own this survey record", nil)
}

func duplicateRegistration() *DomainError {
	return domainError(http.StatusConflict, "DUPLICATE_REGISTRATION", "repository already registered by this user", nil)
}

func invalidState(message string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_STATE", message, nil)
}

func quorumNotMet(participant, total int) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "QUORUM_NOT_MET",
		"not enough survey participants to close", map[string]any{
			"participant": participant,
			"total":       total,
			"required":    total / 2,
		})
}

func configurationMissing(message string) *DomainError {
	return domainError(http.StatusInternalServerError, "CONFIGURATION_MISSING", message, nil)
}

func dependencyUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE", message, nil)
}
