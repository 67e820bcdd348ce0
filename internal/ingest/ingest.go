// Package ingest loads federal documents into the document store and the
// chunk index.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/models"
)

// Entry is one document in an ingestion file.
type Entry struct {
	Document models.DocumentMetadata `json:"document"`
	Text     string                  `json:"text"`
}

type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type ChunkWriter interface {
	Upsert(ctx context.Context, namespace string, chunks []models.IndexedChunk) error
	DeleteDocument(ctx context.Context, namespace, filename string) error
}

type DocumentWriter interface {
	UpsertDocument(ctx context.Context, doc *models.DocumentMetadata) error
}

// ErrMissingDocID is returned for entries without a document ID.
var ErrMissingDocID = errors.New("entry has no doc_id")

// LoadEntries reads a JSON array of entries from path.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}

type Ingester struct {
	embedder  BatchEmbedder
	index     ChunkWriter
	docs      DocumentWriter
	namespace string
	batchSize int
	maxChars  int
}

func NewIngester(embedder BatchEmbedder, index ChunkWriter, docs DocumentWriter, namespace string, batchSize, maxChars int) *Ingester {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Ingester{
		embedder:  embedder,
		index:     index,
		docs:      docs,
		namespace: namespace,
		batchSize: batchSize,
		maxChars:  maxChars,
	}
}

// Ingest stores the entry's metadata, then chunks, embeds and indexes its
// text. It returns the number of chunks written. The document's previous
// chunks in the namespace are removed once every new chunk is embedded, so a
// failed embedding leaves the old index entries intact.
func (i *Ingester) Ingest(ctx context.Context, entry Entry) (int, error) {
	docID := entry.Document.DocID
	if docID == "" {
		return 0, ErrMissingDocID
	}

	if err := i.docs.UpsertDocument(ctx, &entry.Document); err != nil {
		return 0, fmt.Errorf("failed to store metadata for %s: %w", docID, err)
	}

	texts := ChunkText(entry.Text, i.maxChars)
	if len(texts) == 0 {
		logger.Warn("document %s has no text to index", docID)
		return 0, nil
	}

	chunks := make([]models.IndexedChunk, 0, len(texts))
	for start := 0; start < len(texts); start += i.batchSize {
		end := start + i.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := i.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunks of %s: %w", docID, err)
		}
		if len(vectors) != len(batch) {
			return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for j, text := range batch {
			chunks = append(chunks, models.IndexedChunk{
				ID:        i.chunkID(docID, start+j),
				Text:      text,
				Filename:  docID,
				Embedding: vectors[j],
			})
		}
	}

	if err := i.index.DeleteDocument(ctx, i.namespace, docID); err != nil {
		return 0, fmt.Errorf("failed to remove old chunks of %s: %w", docID, err)
	}

	written := 0
	for start := 0; start < len(chunks); start += i.batchSize {
		end := start + i.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := i.index.Upsert(ctx, i.namespace, chunks[start:end]); err != nil {
			return written, fmt.Errorf("failed to index chunks of %s: %w", docID, err)
		}
		written += end - start
	}

	logger.Debug("indexed %d chunks for %s into %s", written, docID, i.namespace)
	return written, nil
}

func (i *Ingester) chunkID(docID string, n int) string {
	name := i.namespace + "/" + docID + "/" + strconv.Itoa(n)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
