package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/matrix-magiq/qvalidator/correction"
	"github.com/matrix-magiq/qvalidator/jam"
	"github.com/matrix-magiq/qvalidator/operations"
	"github.com/matrix-magiq/qvalidator/session"
	"github.com/matrix-magiq/qvalidator/types"
	"github.com/matrix-magiq/qvalidator/validators"
)

var (
	errNotFound     = errors.New("not found")
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

type (
	ErrorResponse struct {
		Message string `json:"message"`
	}

	ResponseWriter struct {
		LogErr func(err error)
	}
)

func (rw *ResponseWriter) logError(err error) {
	if rw.LogErr != nil {
		rw.LogErr(err)
	}
}

func (rw *ResponseWriter) WriteResponse(w http.ResponseWriter, data any) {
	rw.WriteResponseWithStatus(w, http.StatusOK, data)
}

func (rw *ResponseWriter) WriteResponseWithStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rw.logError(fmt.Errorf("failed to encode response data as json: %w", err))
	}
}

func (rw *ResponseWriter) WriteCborResponse(w http.ResponseWriter, data any) {
	w.Header().Set(headerContentType, applicationCBOR)
	if err := types.Cbor.Encode(w, data); err != nil {
		rw.logError(fmt.Errorf("failed to encode response data as cbor: %w", err))
	}
}

// WriteErrorResponse writes the error with the status code matching the error.
func (rw *ResponseWriter) WriteErrorResponse(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		rw.logError(err)
	}
	rw.ErrorResponse(w, code, err)
}

func (rw *ResponseWriter) InvalidParamResponse(w http.ResponseWriter, name string, err error) {
	rw.ErrorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", name, err))
}

func (rw *ResponseWriter) ErrorResponse(w http.ResponseWriter, code int, err error) {
	w.Header().Set(headerContentType, applicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Message: err.Error()}); err != nil {
		rw.logError(fmt.Errorf("failed to encode error response as json: %w", err))
	}
}

// StatusCode maps the error returned by the coordinator to HTTP status code.
func StatusCode(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errUnauthorized), errors.Is(err, jam.ErrMissingCaller):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errNotFound),
		errors.Is(err, operations.ErrOperationNotFound),
		errors.Is(err, operations.ErrResultNotFound),
		errors.Is(err, validators.ErrValidatorNotFound),
		errors.Is(err, jam.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, operations.ErrOperationExpired):
		return http.StatusGone
	case errors.Is(err, operations.ErrDuplicateOperation),
		errors.Is(err, operations.ErrInvalidTransition),
		errors.Is(err, operations.ErrResultExists),
		errors.Is(err, session.ErrDuplicateVote),
		errors.Is(err, validators.ErrAlreadyRegistered),
		errors.Is(err, validators.ErrStatusTransition),
		errors.Is(err, validators.ErrValidatorSlashed):
		return http.StatusConflict
	case errors.As(err, &maxBytesErr),
		errors.Is(err, jam.ErrPayloadTooLarge),
		errors.Is(err, session.ErrTooManyValidators),
		errors.Is(err, validators.ErrPublicKeyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, correction.ErrCorrectionFailed),
		errors.Is(err, types.ErrInvalidExpiration),
		errors.Is(err, types.ErrUnknownOperationType),
		errors.Is(err, validators.ErrInsufficientStake),
		errors.Is(err, validators.ErrValidatorNotActive),
		errors.Is(err, validators.ErrInvalidAccountID):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
