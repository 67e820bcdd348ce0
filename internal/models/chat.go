package models

import "time"

// ChatType distinguishes the two chat variants in the interaction log.
type ChatType string

const (
	ChatTypeDocument   ChatType = "document"
	ChatTypeRegulation ChatType = "regulation"
)

// ChatRequest is the body of both chat endpoints. DocumentID is only read by
// document-scoped chat.
type ChatRequest struct {
	Message    string `json:"message"`
	DocumentID string `json:"documentId,omitempty"`
}

// RetrievedChunk is one vector index match. Slices of chunks keep the order
// the index returned them in.
type RetrievedChunk struct {
	Text             string  `json:"text"`
	Score            float32 `json:"score"`
	MetadataFilename string  `json:"metadataFilename"`
}

// IndexedChunk is a chunk on its way into the vector index.
type IndexedChunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Filename  string    `json:"filename"`
	Embedding []float32 `json:"-"`
}

type ChatMetadata struct {
	DocumentID          string   `json:"documentId,omitempty"`
	MatchCount          int      `json:"matchCount"`
	TokensUsed          int      `json:"tokensUsed"`
	EmbeddingDimensions int      `json:"embeddingDimensions"`
	HasRelevantSections bool     `json:"hasRelevantSections"`
	TopMatchScore       *float32 `json:"topMatchScore"`
}

type ChatResponse struct {
	Response string       `json:"response"`
	Metadata ChatMetadata `json:"metadata"`
}

// ChatLog is one persisted chat interaction.
type ChatLog struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	ChatType   ChatType  `json:"chat_type"`
	DocumentID string    `json:"document_id,omitempty"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Embedding  []float32 `json:"embedding,omitempty"`
	TokensUsed int       `json:"tokens_used"`
	CreatedAt  time.Time `json:"created_at"`
}

type ChatHistoryResponse struct {
	Chats []ChatLog `json:"chats"`
	Count int       `json:"count"`
	User  string    `json:"user"`
}

type DeleteResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
