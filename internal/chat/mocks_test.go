package chat

import (
	"context"
	"errors"
	"sync"

	"regdocs-chat/internal/llm"
	"regdocs-chat/internal/models"
	"regdocs-chat/internal/storage"
)

type MockEmbedder struct {
	vector     []float32
	shouldFail bool
	calls      int
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.shouldFail {
		return nil, errors.New("embedding service unavailable")
	}
	return m.vector, nil
}

type MockVectorIndex struct {
	chunks     []models.RetrievedChunk
	shouldFail bool
	calls      int

	lastTopK      int
	lastNamespace string
	lastFilter    map[string]string
}

func (m *MockVectorIndex) Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]models.RetrievedChunk, error) {
	m.calls++
	m.lastTopK = topK
	m.lastNamespace = namespace
	m.lastFilter = filter
	if m.shouldFail {
		return nil, errors.New("index unavailable")
	}
	return m.chunks, nil
}

type MockDocumentStore struct {
	docs       map[string]*models.DocumentMetadata
	shouldFail bool
	calls      int
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, docID string) (*models.DocumentMetadata, error) {
	m.calls++
	if m.shouldFail {
		return nil, errors.New("database unavailable")
	}
	doc, ok := m.docs[docID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

// MockAccessValidator behaves like the existence validator unless deny or
// err is set.
type MockAccessValidator struct {
	docs  *MockDocumentStore
	deny  bool
	err   error
	calls int
}

func (m *MockAccessValidator) Validate(ctx context.Context, userID, documentID string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.docs.docs[documentID]; !ok {
		return false, storage.ErrNotFound
	}
	return !m.deny, nil
}

type MockCompleter struct {
	text       string
	tokens     int
	shouldFail bool
	calls      int

	lastModel       string
	lastSystem      string
	lastUser        string
	lastTemperature float32
}

func (m *MockCompleter) Complete(ctx context.Context, model, systemPrompt, userMessage string, temperature float32) (*llm.Completion, error) {
	m.calls++
	m.lastModel = model
	m.lastSystem = systemPrompt
	m.lastUser = userMessage
	m.lastTemperature = temperature
	if m.shouldFail {
		return nil, errors.New("completion service unavailable")
	}
	if m.text == "" {
		return nil, llm.ErrEmptyCompletion
	}
	return &llm.Completion{Text: m.text, TokensUsed: m.tokens}, nil
}

type MockLogStore struct {
	mu         sync.Mutex
	entries    []models.ChatLog
	shouldFail bool
}

func (m *MockLogStore) InsertChatLog(ctx context.Context, entry *models.ChatLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shouldFail {
		return errors.New("log store unavailable")
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MockLogStore) Entries() []models.ChatLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatLog(nil), m.entries...)
}
