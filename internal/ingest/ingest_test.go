package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"regdocs-chat/internal/models"
)

type MockBatchEmbedder struct {
	calls      int
	shouldFail bool
}

func (m *MockBatchEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.calls++
	if m.shouldFail {
		return nil, errors.New("mock embedding error")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1}
	}
	return vectors, nil
}

type MockChunkWriter struct {
	chunks  map[string]models.IndexedChunk
	spaces  map[string]string
	deletes []string
}

func NewMockChunkWriter() *MockChunkWriter {
	return &MockChunkWriter{chunks: make(map[string]models.IndexedChunk), spaces: make(map[string]string)}
}

func (m *MockChunkWriter) Upsert(_ context.Context, namespace string, chunks []models.IndexedChunk) error {
	for _, c := range chunks {
		m.chunks[c.ID] = c
		m.spaces[c.ID] = namespace
	}
	return nil
}

func (m *MockChunkWriter) DeleteDocument(_ context.Context, namespace, filename string) error {
	m.deletes = append(m.deletes, namespace+"/"+filename)
	for id, c := range m.chunks {
		if c.Filename == filename && m.spaces[id] == namespace {
			delete(m.chunks, id)
			delete(m.spaces, id)
		}
	}
	return nil
}

type MockDocumentWriter struct {
	docs       map[string]models.DocumentMetadata
	shouldFail bool
}

func (m *MockDocumentWriter) UpsertDocument(_ context.Context, doc *models.DocumentMetadata) error {
	if m.shouldFail {
		return errors.New("mock database error")
	}
	if m.docs == nil {
		m.docs = make(map[string]models.DocumentMetadata)
	}
	m.docs[doc.DocID] = *doc
	return nil
}

func testEntry() Entry {
	var text strings.Builder
	for i := 0; i < 5; i++ {
		text.WriteString("# Section\n")
		text.WriteString("Paragraph body text.\n\n")
	}
	return Entry{
		Document: models.DocumentMetadata{DocID: "EPA-HQ-OAR-2024-0001", Title: "Coke Ovens", AgencyID: "EPA"},
		Text:     text.String(),
	}
}

func TestIngest(t *testing.T) {
	embedder := &MockBatchEmbedder{}
	index := NewMockChunkWriter()
	docs := &MockDocumentWriter{}
	ingester := NewIngester(embedder, index, docs, "federal-documents", 2, 0)

	n, err := ingester.Ingest(context.Background(), testEntry())
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	if n != 5 {
		t.Errorf("Expected 5 chunks, got %d", n)
	}
	if embedder.calls != 3 {
		t.Errorf("Expected 3 embedding batches, got %d", embedder.calls)
	}
	if _, ok := docs.docs["EPA-HQ-OAR-2024-0001"]; !ok {
		t.Error("Expected document metadata to be stored")
	}
	for id, c := range index.chunks {
		if c.Filename != "EPA-HQ-OAR-2024-0001" {
			t.Errorf("Chunk %s has filename %q", id, c.Filename)
		}
		if index.spaces[id] != "federal-documents" {
			t.Errorf("Chunk %s in namespace %q", id, index.spaces[id])
		}
	}

	// re-ingesting replaces chunks instead of duplicating them
	if _, err := ingester.Ingest(context.Background(), testEntry()); err != nil {
		t.Fatalf("Failed to re-ingest: %v", err)
	}
	if len(index.chunks) != 5 {
		t.Errorf("Expected 5 chunks after re-ingest, got %d", len(index.chunks))
	}
}

func sectionEntry(docID string, sections int) Entry {
	var text strings.Builder
	for i := 0; i < sections; i++ {
		text.WriteString("# Section\n")
		text.WriteString("Paragraph body text.\n\n")
	}
	return Entry{Document: models.DocumentMetadata{DocID: docID}, Text: text.String()}
}

func TestReingestShorterDocumentDropsOldChunks(t *testing.T) {
	ctx := context.Background()
	index := NewMockChunkWriter()
	ingester := NewIngester(&MockBatchEmbedder{}, index, &MockDocumentWriter{}, "federal-documents", 2, 0)

	if _, err := ingester.Ingest(ctx, sectionEntry("EPA-1", 5)); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	if _, err := ingester.Ingest(ctx, sectionEntry("FDIC-2", 3)); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	n, err := ingester.Ingest(ctx, sectionEntry("EPA-1", 2))
	if err != nil {
		t.Fatalf("Failed to re-ingest: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 chunks written, got %d", n)
	}

	counts := map[string]int{}
	for _, c := range index.chunks {
		counts[c.Filename]++
	}
	if counts["EPA-1"] != 2 {
		t.Errorf("Expected 2 chunks for EPA-1 after re-ingest, got %d", counts["EPA-1"])
	}
	if counts["FDIC-2"] != 3 {
		t.Errorf("Expected other documents untouched, got %d chunks for FDIC-2", counts["FDIC-2"])
	}
	if len(index.deletes) != 3 || index.deletes[2] != "federal-documents/EPA-1" {
		t.Errorf("Unexpected deletes %v", index.deletes)
	}
}

func TestReingestEmbeddingFailureKeepsOldChunks(t *testing.T) {
	ctx := context.Background()
	embedder := &MockBatchEmbedder{}
	index := NewMockChunkWriter()
	ingester := NewIngester(embedder, index, &MockDocumentWriter{}, "ns", 2, 0)

	if _, err := ingester.Ingest(ctx, sectionEntry("EPA-1", 4)); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	embedder.shouldFail = true
	if _, err := ingester.Ingest(ctx, sectionEntry("EPA-1", 1)); err == nil {
		t.Fatal("Expected embedding failure to be returned")
	}
	if len(index.chunks) != 4 {
		t.Errorf("Expected the previous 4 chunks to survive, got %d", len(index.chunks))
	}
	if len(index.deletes) != 1 {
		t.Errorf("Expected no delete after a failed embedding, got %v", index.deletes)
	}
}

func TestIngestErrors(t *testing.T) {
	ctx := context.Background()

	ingester := NewIngester(&MockBatchEmbedder{}, NewMockChunkWriter(), &MockDocumentWriter{}, "ns", 0, 0)
	if _, err := ingester.Ingest(ctx, Entry{Text: "text"}); !errors.Is(err, ErrMissingDocID) {
		t.Errorf("Expected ErrMissingDocID, got %v", err)
	}

	ingester = NewIngester(&MockBatchEmbedder{shouldFail: true}, NewMockChunkWriter(), &MockDocumentWriter{}, "ns", 0, 0)
	if _, err := ingester.Ingest(ctx, testEntry()); err == nil {
		t.Error("Expected embedding failure to be returned")
	}

	index := NewMockChunkWriter()
	ingester = NewIngester(&MockBatchEmbedder{}, index, &MockDocumentWriter{shouldFail: true}, "ns", 0, 0)
	if _, err := ingester.Ingest(ctx, testEntry()); err == nil {
		t.Error("Expected metadata failure to be returned")
	}
	if len(index.chunks) != 0 {
		t.Error("Expected no chunks when metadata could not be stored")
	}
}

func TestIngestMetadataOnly(t *testing.T) {
	embedder := &MockBatchEmbedder{}
	docs := &MockDocumentWriter{}
	ingester := NewIngester(embedder, NewMockChunkWriter(), docs, "ns", 0, 0)

	n, err := ingester.Ingest(context.Background(), Entry{Document: models.DocumentMetadata{DocID: "FDIC-1"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 0 || embedder.calls != 0 {
		t.Errorf("Expected no chunks or embedding calls, got %d chunks and %d calls", n, embedder.calls)
	}
	if _, ok := docs.docs["FDIC-1"]; !ok {
		t.Error("Expected metadata to be stored")
	}
}

func TestLoadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	data := `[{"document": {"doc_id": "EPA-1", "title": "Rule", "agencyId": "EPA"}, "text": "# A\nbody"}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	entries, err := LoadEntries(path)
	if err != nil {
		t.Fatalf("Failed to load entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Document.DocID != "EPA-1" || entries[0].Document.AgencyID != "EPA" {
		t.Errorf("Unexpected entries %+v", entries)
	}

	if _, err := LoadEntries(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}
