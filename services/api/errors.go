package api

import (
	"errors"
	"net/http"
)

// APIError is the error taxonomy shared by the HTTP and gRPC surfaces
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var (
	ErrInvalidParams   = APIError{Code: "INVALID_PARAMS", Message: "Invalid parameters provided"}
	ErrInvalidData     = APIError{Code: "INVALID_DATA", Message: "Market data could not be parsed"}
	ErrDataNotFound    = APIError{Code: "DATA_NOT_FOUND", Message: "Required data not available"}
	ErrJobNotFound     = APIError{Code: "JOB_NOT_FOUND", Message: "Backtest job not found"}
	ErrExecutionFailed = APIError{Code: "EXECUTION_FAILED", Message: "Backtest execution failed"}
	ErrTimeout         = APIError{Code: "TIMEOUT", Message: "Operation timed out"}
)

func (e APIError) Error() string {
	if e.Details == "" {
		return e.Message
	}
	return e.Message + ": " + e.Details
}

// Is matches on Code so detailed copies still match the sentinel.
func (e APIError) Is(target error) bool {
	var t APIError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func (e APIError) WithDetails(err error) APIError {
	e.Details = err.Error()
	return e
}

// HTTPStatus maps the error code to a response status.
func (e APIError) HTTPStatus() int {
	switch e.Code {
	case ErrInvalidParams.Code, ErrInvalidData.Code:
		return http.StatusBadRequest
	case ErrDataNotFound.Code, ErrJobNotFound.Code:
		return http.StatusNotFound
	case ErrTimeout.Code:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// AsAPIError converts any error into the taxonomy, defaulting to EXECUTION_FAILED.
func AsAPIError(err error) APIError {
	var e APIError
	if errors.As(err, &e) {
		return e
	}
	return ErrExecutionFailed.WithDetails(err)
}
