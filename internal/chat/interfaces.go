// Package chat implements the retrieval-augmented chat pipeline for federal
// regulatory documents.
package chat

import (
	"context"

	"regdocs-chat/internal/llm"
	"regdocs-chat/internal/models"
	"regdocs-chat/internal/permissions"
)

// Embedder turns a message into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex returns the topK chunks in namespace nearest to vector, best
// first. Zero matches is not an error.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]models.RetrievedChunk, error)
}

// DocumentStore resolves document metadata; a missing document is
// storage.ErrNotFound.
type DocumentStore interface {
	GetDocument(ctx context.Context, docID string) (*models.DocumentMetadata, error)
}

// Completer runs one chat completion with a system and a user message.
type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userMessage string, temperature float32) (*llm.Completion, error)
}

// LogStore persists chat interactions.
type LogStore interface {
	InsertChatLog(ctx context.Context, entry *models.ChatLog) error
}

// Recorder accepts chat interactions for asynchronous persistence.
type Recorder interface {
	Log(entry models.ChatLog)
}

// AccessValidator is the permission check run before document chat.
type AccessValidator = permissions.AccessValidator
