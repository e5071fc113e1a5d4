// Package apperror defines the application error taxonomy shared by all
// handlers and services. Errors carry a machine-readable code and the HTTP
// status they map to; the central fiber error handler renders them.
package apperror

import "fmt"

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return e.Message
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func New(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFound(objectType, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Status:  404,
		Message: fmt.Sprintf("%s with id %s not found", objectType, id),
	}
}

func UnknownObject(name string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_OBJECT",
		Status:  404,
		Message: fmt.Sprintf("Unknown object type: %s", name),
	}
}

func UnknownAction(group, key string) *AppError {
	return &AppError{
		Code:    "UNKNOWN_ACTION",
		Status:  404,
		Message: fmt.Sprintf("Unknown action: %s__%s", group, key),
	}
}

func Unauthorized(msg string) *AppError {
	return &AppError{Code: "UNAUTHORIZED", Status: 401, Message: msg}
}

func Forbidden(msg string) *AppError {
	return &AppError{Code: "FORBIDDEN", Status: 403, Message: msg}
}

func BadRequest(msg string) *AppError {
	return &AppError{Code: "INVALID_PAYLOAD", Status: 400, Message: msg}
}

func Validation(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    "VALIDATION_FAILED",
		Status:  422,
		Message: "Validation failed",
		Details: details,
	}
}

func Conflict(msg string) *AppError {
	return &AppError{Code: "CONFLICT", Status: 409, Message: msg}
}

// Integration wraps a failure from an external collaborator (storage, LLM
// extraction, mail). The upstream error is logged by the caller, not exposed.
func Integration(msg string) *AppError {
	return &AppError{Code: "INTEGRATION_FAILED", Status: 502, Message: msg}
}
