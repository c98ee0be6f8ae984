// Package errors defines the HTTP error envelope and the application error
// type the server and CLI share.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/catalog/pkg/provider"
)

// Codes used in error envelopes beyond the provider codes.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
)

// ErrorBody is the wire form of a gofulmen error envelope: Context travels
// as details and CorrelationID as request_id.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the JSON body of every non-2xx API response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// AppError carries an HTTP status and stable code alongside the cause.
type AppError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails returns e with details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// New returns an AppError without a cause.
func New(status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

// BadRequest wraps a validation failure.
func BadRequest(message string, err error) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

// NotFound reports a missing API resource.
func NotFound(message string) *AppError {
	return New(http.StatusNotFound, CodeNotFound, message)
}

// NewExternalServiceError reports a dependency that could not be reached.
func NewExternalServiceError(message string) *AppError {
	return New(http.StatusBadGateway, CodeExternalService, message)
}

// WrapInternal wraps an unexpected failure.
func WrapInternal(err error, message string) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// FromError classifies err. AppErrors pass through; provider failures map to
// their provider code; anything else is internal.
func FromError(err error) *AppError {
	var app *AppError
	if stderrors.As(err, &app) {
		return app
	}

	code := provider.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case provider.CodeNotFound:
		status = http.StatusNotFound
	case provider.CodeAccessDenied, provider.CodeInvalidCredentials:
		status = http.StatusForbidden
	case provider.CodeThrottled:
		status = http.StatusTooManyRequests
	case provider.CodeProviderUnavailable:
		status = http.StatusBadGateway
	case provider.CodeUnsupported:
		status = http.StatusNotImplemented
	case provider.CodeTimeout:
		status = http.StatusGatewayTimeout
	default:
		return WrapInternal(err, "internal error")
	}
	return &AppError{Status: status, Code: code, Message: err.Error(), Err: err}
}

// Envelope builds the gofulmen envelope for e. requestID becomes the
// correlation ID.
func (e *AppError) Envelope(requestID string) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Error())
	if requestID != "" {
		env = env.WithCorrelationID(requestID)
	}
	if len(e.Details) > 0 {
		if withCtx, err := env.WithContext(e.Details); err == nil {
			env = withCtx
		}
	}
	return env
}

// Body renders env in the API's wire shape.
func Body(env *gferrors.ErrorEnvelope) HTTPErrorResponse {
	return HTTPErrorResponse{Error: ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		Details:   env.Context,
		RequestID: env.CorrelationID,
	}}
}

// WriteEnvelope writes env with status.
func WriteEnvelope(w http.ResponseWriter, env *gferrors.ErrorEnvelope, status int) {
	WriteJSON(w, status, Body(env))
}

// RespondWithError writes err as an error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	app := FromError(err)
	var requestID string
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}
	WriteEnvelope(w, app.Envelope(requestID), app.Status)
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
