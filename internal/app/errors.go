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

func notFound(resource, id string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("%s %s not found", resource, id), nil)
}

func forbidden(resource, id string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("no access to %s %s", resource, id), nil)
}

func duplicateName(name string) *DomainError {
	return domainError(http.StatusConflict, "DUPLICATE_NAME",
		fmt.Sprintf("a code named %q already exists under this parent", name), nil)
}

func invalidParent(parentID string) *DomainError {
	return domainError(http.StatusNotFound, "INVALID_PARENT",
		fmt.Sprintf("parent code %s not found in this project", parentID), nil)
}

func circularReference(codeID string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "CIRCULAR_REFERENCE",
		fmt.Sprintf("reparenting code %s would create a cycle", codeID), nil)
}

func hasChildren(codeID string, count int) *DomainError {
	return domainError(http.StatusConflict, "HAS_CHILDREN",
		fmt.Sprintf("code %s has %d child codes; reassign or delete them first", codeID, count), nil)
}

func inUse(codeID string, count int) *DomainError {
	return domainError(http.StatusConflict, "IN_USE",
		fmt.Sprintf("code %s is attached to %d quotes or segments", codeID, count), nil)
}

func textMismatch(expected, actual string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "TEXT_MISMATCH",
		"quote text does not match the segment content at the given range",
		map[string]string{"expected": expected, "actual": actual})
}

func invalidRange(start, end, length int) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_RANGE",
		fmt.Sprintf("range [%d, %d) is outside the segment content (length %d)", start, end, length), nil)
}

func noTarget() *DomainError {
	return domainError(http.StatusUnprocessableEntity, "NO_TARGET",
		"annotation needs at least one of quote_id, segment_id, document_id or code_id", nil)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
