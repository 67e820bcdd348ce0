package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind identifies a chat pipeline failure class.
type Kind string

const (
	KindInvalidRequest     Kind = "invalid_request"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindUpstreamEmbedding  Kind = "upstream_embedding"
	KindUpstreamRetrieval  Kind = "upstream_retrieval"
	KindUpstreamCompletion Kind = "upstream_completion"
	KindInternal           Kind = "internal"
	KindLogging            Kind = "logging"
)

// Status returns the HTTP status code a kind is surfaced with. Logging
// failures are never surfaced and report 0.
func (k Kind) Status() int {
	switch k {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindLogging:
		return 0
	default:
		return http.StatusInternalServerError
	}
}

// ChatError is the closed set of failures produced by the chat pipeline.
type ChatError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *ChatError) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *ChatError) Unwrap() error {
	return e.Cause
}

func NewInvalidRequest(message string) *ChatError {
	return &ChatError{Kind: KindInvalidRequest, Message: message}
}

func NewUnauthorized() *ChatError {
	return &ChatError{Kind: KindUnauthorized, Message: "Authentication required"}
}

func NewForbidden(cause error) *ChatError {
	return &ChatError{Kind: KindForbidden, Message: "Access denied", Cause: cause}
}

func NewNotFound(resource string) *ChatError {
	return &ChatError{Kind: KindNotFound, Message: resource + " not found"}
}

func NewUpstreamEmbedding(cause error) *ChatError {
	return &ChatError{Kind: KindUpstreamEmbedding, Message: "embedding generation failed", Cause: cause}
}

func NewUpstreamRetrieval(cause error) *ChatError {
	return &ChatError{Kind: KindUpstreamRetrieval, Message: "vector search failed", Cause: cause}
}

func NewUpstreamCompletion(cause error) *ChatError {
	return &ChatError{Kind: KindUpstreamCompletion, Message: "completion generation failed", Cause: cause}
}

func NewInternal(cause error) *ChatError {
	return &ChatError{Kind: KindInternal, Message: "internal error", Cause: cause}
}

func NewLogging(cause error) *ChatError {
	return &ChatError{Kind: KindLogging, Message: "failed to log chat interaction", Cause: cause}
}

// AsChatError returns err as a *ChatError. Errors outside the taxonomy are
// wrapped as internal errors.
func AsChatError(err error) *ChatError {
	if err == nil {
		return nil
	}
	var ce *ChatError
	if stderrors.As(err, &ce) {
		return ce
	}
	return NewInternal(err)
}

// IsKind reports whether err is a ChatError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *ChatError
	return stderrors.As(err, &ce) && ce.Kind == kind
}
