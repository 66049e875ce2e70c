// Package errors maps build errors to HTTP status codes and API errors.
package errors

import (
	"errors"
	"net/http"

	"github.com/remiblancher/qscep/internal/api/dto"
	"github.com/remiblancher/qscep/internal/scep"
)

// Error codes for API responses.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeCryptoError     = "CRYPTO_ERROR"
	CodeIntegrityError  = "INTEGRITY_ERROR"
	CodeIOError         = "IO_ERROR"
	CodeRequestTooLarge = "REQUEST_TOO_LARGE"
	CodeInternal        = "INTERNAL_ERROR"
)

// MapError maps an error to an HTTP status and API error body.
func MapError(err error) (int, *dto.APIError) {
	if err == nil {
		return http.StatusOK, nil
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, &dto.APIError{
			Code:    CodeRequestTooLarge,
			Message: err.Error(),
		}
	}

	var code string
	var status int
	switch scep.KindOf(err) {
	case scep.ErrInput:
		status, code = http.StatusBadRequest, CodeInvalidInput
	case scep.ErrCrypto:
		status, code = http.StatusUnprocessableEntity, CodeCryptoError
	case scep.ErrIntegrity:
		status, code = http.StatusInternalServerError, CodeIntegrityError
	case scep.ErrIO:
		status, code = http.StatusInternalServerError, CodeIOError
	default:
		return http.StatusInternalServerError, &dto.APIError{
			Code:    CodeInternal,
			Message: "An internal error occurred",
		}
	}

	apiErr := &dto.APIError{Code: code, Message: err.Error()}
	var se *scep.Error
	if errors.As(err, &se) && se.Op != "" {
		apiErr.Details = map[string]string{"operation": se.Op}
	}
	return status, apiErr
}

// NewBadRequest is the error for a body that could not be decoded.
func NewBadRequest(message string) *dto.APIError {
	return &dto.APIError{
		Code:    CodeInvalidRequest,
		Message: message,
	}
}
