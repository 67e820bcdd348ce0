// Package providers builds the configured embedding, completion, vector index
// and access-validation backends.
package providers

import (
	"context"
	"fmt"

	"regdocs-chat/internal/config"
	"regdocs-chat/internal/embeddings"
	"regdocs-chat/internal/llm"
	"regdocs-chat/internal/models"
	"regdocs-chat/internal/permissions"
	"regdocs-chat/internal/storage"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelInfo() string
}

type Completer interface {
	Complete(ctx context.Context, model, systemPrompt, userMessage string, temperature float32) (*llm.Completion, error)
}

// VectorIndex is the read and write side of a chunk index.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, chunks []models.IndexedChunk) error
	DeleteDocument(ctx context.Context, namespace, filename string) error
	Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]models.RetrievedChunk, error)
}

func NewEmbedder(cfg *config.Config) (Embedder, error) {
	switch cfg.Providers.Embedding {
	case "openai":
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.Services.OpenAI.APIKey, cfg.Services.OpenAI.BaseURL,
			cfg.Services.OpenAI.EmbeddingModel, config.Seconds(cfg.Services.OpenAI.Timeout))
		if err != nil {
			return nil, err
		}
		return embedder, nil
	case "ollama":
		return embeddings.NewOllamaEmbedder(cfg.Services.Ollama.BaseURL, cfg.Services.Ollama.EmbeddingModel,
			config.Seconds(cfg.Services.Ollama.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Providers.Embedding)
	}
}

func NewCompleter(cfg *config.Config) (Completer, error) {
	switch cfg.Providers.Completion {
	case "openai":
		completer, err := llm.NewOpenAICompleter(cfg.Services.OpenAI.APIKey, cfg.Services.OpenAI.BaseURL,
			config.Seconds(cfg.Services.OpenAI.Timeout))
		if err != nil {
			return nil, err
		}
		return completer, nil
	case "ollama":
		return llm.NewOllamaClient(cfg.Services.Ollama.BaseURL, cfg.Services.Ollama.ChatModel,
			config.Seconds(cfg.Services.Ollama.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Providers.Completion)
	}
}

// NewVectorIndex opens the configured index. The returned close function
// releases any connection the index holds.
func NewVectorIndex(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore) (VectorIndex, func(context.Context) error, error) {
	switch cfg.Providers.VectorIndex {
	case "sqlite":
		index, err := storage.NewSQLiteVectorStore(store.DB())
		if err != nil {
			return nil, nil, err
		}
		return index, func(context.Context) error { return nil }, nil
	case "milvus":
		m := cfg.Services.Milvus
		index, err := storage.NewMilvusIndex(ctx, m.Address, m.Username, m.Password, m.Collection, cfg.Chat.EmbeddingDimensions)
		if err != nil {
			return nil, nil, err
		}
		return index, index.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector index provider %q", cfg.Providers.VectorIndex)
	}
}

func NewAccessValidator(cfg *config.Config, docs permissions.DocumentLookup) (permissions.AccessValidator, error) {
	switch cfg.Security.AccessMode {
	case "existence":
		return permissions.NewExistenceValidator(docs), nil
	case "static":
		return permissions.NewPermissionService(docs, cfg.Security.Grants), nil
	case "keto":
		k := cfg.Services.Keto
		return permissions.NewKetoPermissionService(k.ReadURL, k.WriteURL, config.Seconds(k.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown access mode %q", cfg.Security.AccessMode)
	}
}
