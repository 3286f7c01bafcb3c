package errors

import (
	"errors"
	"net/http"
	"strings"
)

// WrapChainError wraps an error as a ChainError if it isn't already one
func WrapChainError(err error, code ErrorCode, chain, message string) *ChainError {
	if err == nil {
		return nil
	}

	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		chainErr.WithContext("wrapped_message", message)
		if chain != "" && chainErr.Chain == "" {
			chainErr.Chain = chain
		}
		return chainErr
	}

	return NewChainError(code, chain, message, err)
}

// IsChainError checks if an error is a ChainError with specific code
func IsChainError(err error, code ErrorCode) bool {
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Code == code
	}
	return false
}

// CodeOf returns the classification of err, INTERNAL when unclassified.
func CodeOf(err error) ErrorCode {
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"rate limit",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// PublicError is the caller-facing rendering of an error.
type PublicError struct {
	Status  int       `json:"status"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// Public renders err for an external caller. Client errors keep their message.
// Everything else is masked in production and carries the full cause chain otherwise.
func Public(err error, production bool) PublicError {
	var chainErr *ChainError
	if errors.As(err, &chainErr) && chainErr.IsClientError() {
		return PublicError{
			Status:  chainErr.HTTPStatus(),
			Code:    chainErr.Code,
			Message: chainErr.Message,
		}
	}

	status := http.StatusInternalServerError
	code := ErrCodeInternal
	if chainErr != nil {
		status = chainErr.HTTPStatus()
		code = chainErr.Code
	}
	if production {
		return PublicError{
			Status:  status,
			Code:    code,
			Message: http.StatusText(status),
		}
	}
	return PublicError{
		Status:  status,
		Code:    code,
		Message: http.StatusText(status),
		Detail:  err.Error(),
	}
}
