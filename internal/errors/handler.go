// Package errors provides the chat error taxonomy and secure error responses
package errors

import (
	"encoding/json"
	"net/http"

	"regdocs-chat/internal/config"
	"regdocs-chat/internal/logger"
)

// Public messages for failures whose internals are never shown to callers.
const (
	MessageChatFailed     = "Failed to process chat request"
	MessageInternal       = "An internal error occurred"
	MessageDatabaseFailed = "Database operation failed"
)

// ErrorResponse is the uniform error envelope. Details are only included in
// development mode.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// ErrorHandler provides secure error handling based on configuration
type ErrorHandler struct {
	config *config.Config
}

// NewErrorHandler creates a new error handler with the given configuration
func NewErrorHandler(cfg *config.Config) *ErrorHandler {
	return &ErrorHandler{
		config: cfg,
	}
}

// HandleChatError writes the response for a pipeline error by dispatching on
// its kind.
func (h *ErrorHandler) HandleChatError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	ce := AsChatError(err)
	switch ce.Kind {
	case KindInvalidRequest:
		h.HandleValidationError(w, r, ce, requestID)
	case KindUnauthorized:
		h.HandleAuthError(w, r, ce, requestID)
	case KindForbidden:
		h.HandleAuthorizationError(w, r, ce, requestID)
	case KindNotFound:
		h.HandleNotFoundError(w, r, ce, requestID)
	case KindUpstreamEmbedding:
		h.HandleServiceError(w, r, "embedding", ce, requestID)
	case KindUpstreamRetrieval:
		h.HandleServiceError(w, r, "vector index", ce, requestID)
	case KindUpstreamCompletion:
		h.HandleServiceError(w, r, "completion", ce, requestID)
	case KindLogging:
		// never surfaced to the caller
		h.logError("LOGGING_ERROR", ce, requestID, r)
	default:
		h.HandleInternalError(w, r, ce, requestID)
	}
}

// HandleValidationError handles input validation errors. The validation
// message is echoed back to the caller.
func (h *ErrorHandler) HandleValidationError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	message := "Invalid request"
	if ce, ok := err.(*ChatError); ok && ce.Message != "" {
		message = ce.Message
	}

	h.logError("VALIDATION_ERROR", err, requestID, r)
	h.writeJSONError(w, http.StatusBadRequest, h.response(message, err))
}

// HandleAuthError handles authentication-related errors with consistent responses
func (h *ErrorHandler) HandleAuthError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	h.logError("AUTH_ERROR", err, requestID, r)
	h.writeJSONError(w, http.StatusUnauthorized, ErrorResponse{Error: "Authentication required"})
}

// HandleAuthorizationError handles authorization/permission errors
func (h *ErrorHandler) HandleAuthorizationError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	h.logError("AUTHZ_ERROR", err, requestID, r)
	h.writeJSONError(w, http.StatusForbidden, h.response("Access denied", err))
}

// HandleNotFoundError handles resource not found errors
func (h *ErrorHandler) HandleNotFoundError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	message := "Resource not found"
	if ce, ok := err.(*ChatError); ok && ce.Message != "" {
		message = ce.Message
	}

	h.logError("NOT_FOUND", err, requestID, r)
	h.writeJSONError(w, http.StatusNotFound, ErrorResponse{Error: message})
}

// HandleServiceError handles external service errors (embedding, vector
// index, completion). Callers only ever see a generic message.
func (h *ErrorHandler) HandleServiceError(w http.ResponseWriter, r *http.Request, service string, err error, requestID string) {
	response := ErrorResponse{Error: MessageChatFailed}
	if h.config.ExposeDetails() {
		response.Details = map[string]interface{}{
			"service": service,
			"error":   err.Error(),
		}
	}

	h.logError("SERVICE_ERROR", err, requestID, r)
	h.writeJSONError(w, http.StatusInternalServerError, response)
}

// HandleInternalError handles internal server errors
func (h *ErrorHandler) HandleInternalError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	h.logError("INTERNAL_ERROR", err, requestID, r)
	h.writeJSONError(w, http.StatusInternalServerError, h.response(MessageInternal, err))
}

// HandleDatabaseError handles database-related errors
func (h *ErrorHandler) HandleDatabaseError(w http.ResponseWriter, r *http.Request, err error, requestID string) {
	h.logError("DATABASE_ERROR", err, requestID, r)
	h.writeJSONError(w, http.StatusInternalServerError, h.response(MessageDatabaseFailed, err))
}

func (h *ErrorHandler) response(message string, err error) ErrorResponse {
	response := ErrorResponse{Error: message}
	if err != nil && h.config.ExposeDetails() {
		response.Details = err.Error()
	}
	return response
}

// writeJSONError writes an error response as JSON
func (h *ErrorHandler) writeJSONError(w http.ResponseWriter, code int, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Error encoding error response: %v", err)
	}
}

// logError logs errors with context
func (h *ErrorHandler) logError(errorType string, err error, requestID string, r *http.Request) {
	fields := map[string]interface{}{
		"type":       errorType,
		"request_id": requestID,
		"method":     r.Method,
		"path":       r.URL.Path,
		"user_agent": r.Header.Get("User-Agent"),
		"remote_ip":  getClientIP(r),
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	logger.Event(logger.LevelError, "request failed", fields)
}

// getClientIP extracts the real client IP from request headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// Predefined error types for common scenarios

// ErrInvalidAuthHeader indicates malformed authorization header
var ErrInvalidAuthHeader = &StandardError{
	Type:    "INVALID_AUTH_HEADER",
	Message: "Invalid authorization header format",
}

// ErrMissingAuthHeader indicates missing authorization header
var ErrMissingAuthHeader = &StandardError{
	Type:    "MISSING_AUTH_HEADER",
	Message: "Missing authorization header",
}

// ErrInvalidToken indicates invalid token
var ErrInvalidToken = &StandardError{
	Type:    "INVALID_TOKEN",
	Message: "Invalid token",
}

// StandardError represents a standard application error
type StandardError struct {
	Type    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *StandardError) Unwrap() error {
	return e.Cause
}

// WithCause adds a cause to the error
func (e *StandardError) WithCause(cause error) *StandardError {
	return &StandardError{
		Type:    e.Type,
		Message: e.Message,
		Cause:   cause,
	}
}
