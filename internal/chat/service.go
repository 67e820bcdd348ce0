package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "regdocs-chat/internal/errors"
	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/models"
	"regdocs-chat/internal/storage"
)

// VariantSettings configures retrieval and generation for one chat variant.
type VariantSettings struct {
	Namespace   string
	TopK        int
	FilterField string
	Model       string
}

// Service is the chat orchestrator. Each call runs one linear pipeline:
// validate, authenticate, authorize, resolve the document, embed, retrieve,
// generate, log and respond. The first failing stage ends the call.
type Service struct {
	embedder  Embedder
	index     VectorIndex
	docs      DocumentStore
	access    AccessValidator
	generator *Generator
	recorder  Recorder

	document   VariantSettings
	regulation VariantSettings
	now        func() time.Time
}

func NewService(embedder Embedder, index VectorIndex, docs DocumentStore, access AccessValidator, generator *Generator, recorder Recorder, document, regulation VariantSettings) *Service {
	return &Service{
		embedder:   embedder,
		index:      index,
		docs:       docs,
		access:     access,
		generator:  generator,
		recorder:   recorder,
		document:   document,
		regulation: regulation,
		now:        time.Now,
	}
}

// DocumentChat answers a question about one federal document.
func (s *Service) DocumentChat(ctx context.Context, identity string, req models.ChatRequest) (*models.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	documentID := strings.TrimSpace(req.DocumentID)
	if message == "" {
		return nil, apperrors.NewInvalidRequest("Message is required")
	}
	if documentID == "" {
		return nil, apperrors.NewInvalidRequest("Document ID is required")
	}

	if identity == "" {
		return nil, apperrors.NewUnauthorized()
	}

	allowed, err := s.access.Validate(ctx, identity, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NewNotFound("Document")
		}
		return nil, apperrors.NewInternal(err)
	}
	if !allowed {
		return nil, apperrors.NewForbidden(nil)
	}

	doc, err := s.docs.GetDocument(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFound("Document")
	}
	if err != nil {
		return nil, apperrors.NewInternal(err)
	}

	var filter map[string]string
	if s.document.FilterField != "" {
		filter = map[string]string{s.document.FilterField: documentID}
	}

	return s.answer(ctx, identity, models.ChatTypeDocument, req.Message, doc, s.document, filter)
}

// RegulationChat answers a question against the major regulations corpus.
func (s *Service) RegulationChat(ctx context.Context, identity string, req models.ChatRequest) (*models.ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperrors.NewInvalidRequest("Message is required")
	}
	if identity == "" {
		return nil, apperrors.NewUnauthorized()
	}

	return s.answer(ctx, identity, models.ChatTypeRegulation, req.Message, nil, s.regulation, nil)
}

// answer runs the stages shared by both variants, from embedding to response.
func (s *Service) answer(ctx context.Context, identity string, chatType models.ChatType, message string, doc *models.DocumentMetadata, variant VariantSettings, filter map[string]string) (*models.ChatResponse, error) {
	embedding, err := s.embedder.Embed(ctx, message)
	if err != nil {
		return nil, apperrors.NewUpstreamEmbedding(err)
	}
	if len(embedding) == 0 {
		return nil, apperrors.NewUpstreamEmbedding(errors.New("empty embedding"))
	}

	chunks, err := s.index.Query(ctx, embedding, variant.TopK, variant.Namespace, filter)
	if err != nil {
		return nil, apperrors.NewUpstreamRetrieval(err)
	}
	if len(chunks) > variant.TopK {
		chunks = chunks[:variant.TopK]
	}

	completion, err := s.generator.Generate(ctx, GenerateRequest{
		Model:    variant.Model,
		Message:  message,
		Document: doc,
		Chunks:   chunks,
	})
	if err != nil {
		return nil, apperrors.NewUpstreamCompletion(err)
	}

	entry := models.ChatLog{
		ID:         uuid.New().String(),
		UserID:     identity,
		ChatType:   chatType,
		Prompt:     message,
		Response:   completion.Text,
		Embedding:  embedding,
		TokensUsed: completion.TokensUsed,
		CreatedAt:  s.now().UTC(),
	}
	if doc != nil {
		entry.DocumentID = doc.DocID
	}
	s.recorder.Log(entry)

	metadata := models.ChatMetadata{
		MatchCount:          len(chunks),
		TokensUsed:          completion.TokensUsed,
		EmbeddingDimensions: len(embedding),
		HasRelevantSections: len(chunks) > 0,
	}
	if doc != nil {
		metadata.DocumentID = doc.DocID
	}
	if len(chunks) > 0 {
		top := chunks[0].Score
		metadata.TopMatchScore = &top
	}

	logger.Event(logger.LevelInfo, "chat completed", map[string]interface{}{
		"chat_type": string(chatType),
		"user_id":   identity,
		"matches":   len(chunks),
		"tokens":    completion.TokensUsed,
	})

	return &models.ChatResponse{
		Response: completion.Text,
		Metadata: metadata,
	}, nil
}
