// Package api exposes the chat pipeline, chat history and document metadata
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ory/herodot"

	"regdocs-chat/internal/auth"
	apperrors "regdocs-chat/internal/errors"
	"regdocs-chat/internal/models"
	"regdocs-chat/internal/storage"
)

// Interfaces for dependency injection
type ChatService interface {
	DocumentChat(ctx context.Context, identity string, req models.ChatRequest) (*models.ChatResponse, error)
	RegulationChat(ctx context.Context, identity string, req models.ChatRequest) (*models.ChatResponse, error)
}

type DocumentStore interface {
	GetDocument(ctx context.Context, docID string) (*models.DocumentMetadata, error)
	ListDocuments(ctx context.Context) ([]models.DocumentMetadata, error)
	SetRelevant(ctx context.Context, docID string, relevant bool) error
}

type ChatLogStore interface {
	ListChatLogs(ctx context.Context, userID string) ([]models.ChatLog, error)
	ListDocumentChats(ctx context.Context, userID, docID string) ([]models.ChatLog, error)
	GetChatLog(ctx context.Context, id string) (*models.ChatLog, error)
	DeleteChatLog(ctx context.Context, userID, id string) error
}

type Server struct {
	mux           *http.ServeMux
	chat          ChatService
	docs          DocumentStore
	logs          ChatLogStore
	authenticator *auth.Authenticator
	errorHandler  *apperrors.ErrorHandler
	writer        *herodot.JSONWriter
}

func NewServer(chat ChatService, docs DocumentStore, logs ChatLogStore, authenticator *auth.Authenticator, errorHandler *apperrors.ErrorHandler) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		chat:          chat,
		docs:          docs,
		logs:          logs,
		authenticator: authenticator,
		errorHandler:  errorHandler,
		writer:        herodot.NewJSONWriter(nil),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /api/chat", s.documentChat)
	s.mux.HandleFunc("POST /api/reg-chat", s.regulationChat)

	s.mux.HandleFunc("GET /api/chat/history", s.requireUser(s.chatHistory))
	s.mux.HandleFunc("GET /api/chat/history/{id}", s.requireUser(s.getChat))
	s.mux.HandleFunc("DELETE /api/chat/history/{id}", s.requireUser(s.deleteChat))

	s.mux.HandleFunc("GET /api/documents", s.requireUser(s.listDocuments))
	s.mux.HandleFunc("GET /api/documents/{docId}", s.requireUser(s.getDocument))
	s.mux.HandleFunc("GET /api/documents/{docId}/chats", s.requireUser(s.documentChats))
	s.mux.HandleFunc("PUT /api/documents/{docId}/relevant", s.requireUser(s.setRelevant))

	s.mux.HandleFunc("GET /health", s.healthCheck)
}

// Handler returns the mux wrapped in request ID, access logging and
// identity resolution.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(loggingMiddleware(s.authenticator.Middleware(s.mux)))
}

func (s *Server) documentChat(w http.ResponseWriter, r *http.Request) {
	s.handleChat(w, r, s.chat.DocumentChat)
}

func (s *Server) regulationChat(w http.ResponseWriter, r *http.Request) {
	s.handleChat(w, r, s.chat.RegulationChat)
}

type chatFunc func(ctx context.Context, identity string, req models.ChatRequest) (*models.ChatResponse, error)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, run chatFunc) {
	requestID := RequestIDFromContext(r.Context())

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorHandler.HandleValidationError(w, r, apperrors.NewInvalidRequest("Invalid request body"), requestID)
		return
	}

	resp, err := run(r.Context(), auth.GetUserFromContext(r.Context()), req)
	if err != nil {
		s.errorHandler.HandleChatError(w, r, err, requestID)
		return
	}
	s.writer.Write(w, r, resp)
}

type userHandlerFunc func(w http.ResponseWriter, r *http.Request, user string)

// requireUser rejects anonymous requests with 401.
func (s *Server) requireUser(next userHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.UserFromContext(r.Context())
		if !ok {
			s.errorHandler.HandleAuthError(w, r, apperrors.ErrMissingAuthHeader, RequestIDFromContext(r.Context()))
			return
		}
		next(w, r, user)
	}
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request, user string) {
	chats, err := s.logs.ListChatLogs(r.Context(), user)
	if err != nil {
		s.errorHandler.HandleDatabaseError(w, r, err, RequestIDFromContext(r.Context()))
		return
	}

	s.writer.Write(w, r, &models.ChatHistoryResponse{
		Chats: chats,
		Count: len(chats),
		User:  user,
	})
}

// getChat returns one of the caller's chats, including its embedding. Chats
// owned by other users are reported as not found.
func (s *Server) getChat(w http.ResponseWriter, r *http.Request, user string) {
	requestID := RequestIDFromContext(r.Context())

	entry, err := s.logs.GetChatLog(r.Context(), r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && entry.UserID != user) {
		s.errorHandler.HandleNotFoundError(w, r, apperrors.NewNotFound("Chat"), requestID)
		return
	}
	if err != nil {
		s.errorHandler.HandleDatabaseError(w, r, err, requestID)
		return
	}
	s.writer.Write(w, r, entry)
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request, user string) {
	requestID := RequestIDFromContext(r.Context())
	id := r.PathValue("id")

	if err := s.logs.DeleteChatLog(r.Context(), user, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorHandler.HandleNotFoundError(w, r, apperrors.NewNotFound("Chat"), requestID)
			return
		}
		s.errorHandler.HandleDatabaseError(w, r, err, requestID)
		return
	}

	s.writer.Write(w, r, &models.DeleteResponse{
		ID:      id,
		Message: "Chat deleted successfully",
	})
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request, _ string) {
	docs, err := s.docs.ListDocuments(r.Context())
	if err != nil {
		s.errorHandler.HandleDatabaseError(w, r, err, RequestIDFromContext(r.Context()))
		return
	}

	s.writer.Write(w, r, &models.DocumentListResponse{
		Documents: docs,
		Count:     len(docs),
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request, _ string) {
	requestID := RequestIDFromContext(r.Context())

	doc, err := s.docs.GetDocument(r.Context(), r.PathValue("docId"))
	if errors.Is(err, storage.ErrNotFound) {
		s.errorHandler.HandleNotFoundError(w, r, apperrors.NewNotFound("Document"), requestID)
		return
	}
	if err != nil {
		s.errorHandler.HandleDatabaseError(w, r, err, requestID)
		return
	}
	s.writer.Write(w, r, doc)
}

func (s *Server) documentChats(w http.ResponseWriter, r *http.Request, user string) {
	chats, err := s.logs.ListDocumentChats(r.Context(), user, r.PathValue("docId"))
	if err != nil {
		s.errorHandler.HandleDatabaseError(w, r, err, RequestIDFromContext(r.Context()))
		return
	}

	s.writer.Write(w, r, &models.ChatHistoryResponse{
		Chats: chats,
		Count: len(chats),
		User:  user,
	})
}

func (s *Server) setRelevant(w http.ResponseWriter, r *http.Request, _ string) {
	requestID := RequestIDFromContext(r.Context())
	docID := r.PathValue("docId")

	var update models.RelevanceUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.errorHandler.HandleValidationError(w, r, apperrors.NewInvalidRequest("Invalid request body"), requestID)
		return
	}
	if update.Relevant == nil {
		s.errorHandler.HandleValidationError(w, r, apperrors.NewInvalidRequest("Field 'relevant' is required"), requestID)
		return
	}

	if err := s.docs.SetRelevant(r.Context(), docID, *update.Relevant); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorHandler.HandleNotFoundError(w, r, apperrors.NewNotFound("Document"), requestID)
			return
		}
		s.errorHandler.HandleDatabaseError(w, r, err, requestID)
		return
	}

	s.writer.Write(w, r, &models.RelevanceResponse{
		DocID:    docID,
		Relevant: *update.Relevant,
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := &models.HealthResponse{Status: "healthy"}
	s.writer.Write(w, r, response)
}
