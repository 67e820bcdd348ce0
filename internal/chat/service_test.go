package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "regdocs-chat/internal/errors"
	"regdocs-chat/internal/models"
)

type testPipeline struct {
	embedder  *MockEmbedder
	index     *MockVectorIndex
	docs      *MockDocumentStore
	access    *MockAccessValidator
	completer *MockCompleter
	logStore  *MockLogStore
	logger    *InteractionLogger
	service   *Service
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	docs := &MockDocumentStore{docs: map[string]*models.DocumentMetadata{
		"EPA-2024-001": {
			DocID:        "EPA-2024-001",
			Title:        "National Emission Standards for Coke Ovens",
			AgencyID:     "EPA",
			DocumentType: "Proposed Rule",
			PostedDate:   "2024-02-01",
		},
	}}

	p := &testPipeline{
		embedder:  &MockEmbedder{vector: make([]float32, 1536)},
		index:     &MockVectorIndex{},
		docs:      docs,
		access:    &MockAccessValidator{docs: docs},
		completer: &MockCompleter{text: "Comments are due by April 1, 2024.", tokens: 321},
		logStore:  &MockLogStore{},
	}
	p.embedder.vector[0] = 1
	p.logger = NewInteractionLogger(p.logStore, 8, time.Second)
	t.Cleanup(func() { _ = p.logger.Close(context.Background()) })

	p.service = NewService(p.embedder, p.index, p.docs, p.access,
		NewGenerator(p.completer, 0.7), p.logger,
		VariantSettings{Namespace: "federal-documents", TopK: 5, FilterField: "filename", Model: "gpt-4"},
		VariantSettings{Namespace: "major-regs", TopK: 10, Model: "gpt-4o"},
	)
	return p
}

// flushLogs waits for every queued chat log to be written.
func (p *testPipeline) flushLogs(t *testing.T) []models.ChatLog {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.logger.Close(ctx); err != nil {
		t.Fatalf("Failed to flush interaction logger: %v", err)
	}
	return p.logStore.Entries()
}

func assertKind(t *testing.T, err error, kind apperrors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	if !apperrors.IsKind(err, kind) {
		t.Fatalf("Expected %s error, got %v", kind, err)
	}
}

func TestDocumentChatGroundedAnswer(t *testing.T) {
	p := newTestPipeline(t)
	p.index.chunks = []models.RetrievedChunk{
		{Text: "Comments must be received on or before April 1, 2024.", Score: 0.89, MetadataFilename: "EPA-2024-001"},
	}

	resp, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{
		Message:    "What is the comment deadline?",
		DocumentID: "EPA-2024-001",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Response != "Comments are due by April 1, 2024." {
		t.Errorf("Unexpected response %q", resp.Response)
	}
	md := resp.Metadata
	if md.MatchCount != 1 || !md.HasRelevantSections {
		t.Errorf("Expected one relevant match, got %+v", md)
	}
	if md.TopMatchScore == nil || *md.TopMatchScore != 0.89 {
		t.Errorf("Expected top match score 0.89, got %v", md.TopMatchScore)
	}
	if md.DocumentID != "EPA-2024-001" || md.TokensUsed != 321 || md.EmbeddingDimensions != 1536 {
		t.Errorf("Unexpected metadata %+v", md)
	}

	if p.index.lastNamespace != "federal-documents" || p.index.lastTopK != 5 {
		t.Errorf("Expected federal-documents/5, got %s/%d", p.index.lastNamespace, p.index.lastTopK)
	}
	if p.index.lastFilter["filename"] != "EPA-2024-001" {
		t.Errorf("Expected filename filter, got %v", p.index.lastFilter)
	}
	if p.completer.lastModel != "gpt-4" || p.completer.lastTemperature != 0.7 {
		t.Errorf("Unexpected model/temperature %s/%v", p.completer.lastModel, p.completer.lastTemperature)
	}
	if p.completer.lastUser != "What is the comment deadline?" {
		t.Errorf("Expected raw user message, got %q", p.completer.lastUser)
	}
	for _, want := range []string{"Title: National Emission Standards for Coke Ovens", "Agency: EPA", "Comments must be received on or before April 1, 2024."} {
		if !strings.Contains(p.completer.lastSystem, want) {
			t.Errorf("Expected system prompt to contain %q", want)
		}
	}

	logs := p.flushLogs(t)
	if len(logs) != 1 {
		t.Fatalf("Expected 1 chat log, got %d", len(logs))
	}
	entry := logs[0]
	if entry.UserID != "alice" || entry.ChatType != models.ChatTypeDocument || entry.DocumentID != "EPA-2024-001" {
		t.Errorf("Unexpected chat log %+v", entry)
	}
	if entry.Prompt != "What is the comment deadline?" || entry.Response != resp.Response || entry.TokensUsed != 321 {
		t.Errorf("Unexpected chat log content %+v", entry)
	}
	if len(entry.Embedding) != 1536 || entry.Embedding[0] != 1 {
		t.Error("Expected embedding to be logged verbatim")
	}
}

func TestRegulationChatWithoutMatches(t *testing.T) {
	p := newTestPipeline(t)
	p.completer.text = "I could not find matching regulations. Generally speaking, hello!"

	resp, err := p.service.RegulationChat(context.Background(), "alice", models.ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Response == "" {
		t.Error("Expected a non-empty answer")
	}
	if resp.Metadata.MatchCount != 0 || resp.Metadata.HasRelevantSections {
		t.Errorf("Expected no matches, got %+v", resp.Metadata)
	}
	if resp.Metadata.TopMatchScore != nil {
		t.Errorf("Expected null top match score, got %v", *resp.Metadata.TopMatchScore)
	}

	body, _ := json.Marshal(resp)
	if !strings.Contains(string(body), `"topMatchScore":null`) {
		t.Errorf("Expected topMatchScore null in JSON, got %s", body)
	}
	if strings.Contains(string(body), "documentId") {
		t.Errorf("Expected no documentId for regulation chat, got %s", body)
	}

	if p.index.lastNamespace != "major-regs" || p.index.lastTopK != 10 || p.index.lastFilter != nil {
		t.Errorf("Expected major-regs/10 without filter, got %s/%d/%v", p.index.lastNamespace, p.index.lastTopK, p.index.lastFilter)
	}
	if p.completer.lastModel != "gpt-4o" {
		t.Errorf("Expected gpt-4o, got %s", p.completer.lastModel)
	}
	if !strings.Contains(p.completer.lastSystem, "not grounded") {
		t.Error("Expected system prompt to require flagging ungrounded answers")
	}
	if p.docs.calls != 0 || p.access.calls != 0 {
		t.Error("Regulation chat must not resolve or authorize documents")
	}

	logs := p.flushLogs(t)
	if len(logs) != 1 || logs[0].ChatType != models.ChatTypeRegulation || logs[0].DocumentID != "" {
		t.Errorf("Unexpected chat logs %+v", logs)
	}
}

func TestDocumentChatUnauthenticated(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.service.DocumentChat(context.Background(), "", models.ChatRequest{
		Message:    "What is the comment deadline?",
		DocumentID: "EPA-2024-001",
	})
	assertKind(t, err, apperrors.KindUnauthorized)

	if p.embedder.calls != 0 || p.access.calls != 0 {
		t.Errorf("Expected no downstream calls, got embed=%d access=%d", p.embedder.calls, p.access.calls)
	}
}

func TestRegulationChatUnauthenticated(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.service.RegulationChat(context.Background(), "", models.ChatRequest{Message: "hello"})
	assertKind(t, err, apperrors.KindUnauthorized)
	if apperrors.AsChatError(err).Kind.Status() != 401 {
		t.Error("Expected regulation chat to report 401 for unauthenticated callers")
	}
}

func TestEmptyMessageMakesNoUpstreamCalls(t *testing.T) {
	for _, message := range []string{"", "   ", "\n\t"} {
		p := newTestPipeline(t)

		_, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{Message: message, DocumentID: "EPA-2024-001"})
		assertKind(t, err, apperrors.KindInvalidRequest)

		_, err = p.service.RegulationChat(context.Background(), "alice", models.ChatRequest{Message: message})
		assertKind(t, err, apperrors.KindInvalidRequest)

		if p.embedder.calls+p.index.calls+p.completer.calls+p.docs.calls+p.access.calls != 0 {
			t.Errorf("Expected zero upstream calls for message %q", message)
		}
		if logs := p.flushLogs(t); len(logs) != 0 {
			t.Errorf("Expected no chat logs, got %d", len(logs))
		}
	}
}

func TestValidationPrecedesAuthentication(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.service.DocumentChat(context.Background(), "", models.ChatRequest{Message: "question"})
	assertKind(t, err, apperrors.KindInvalidRequest)
	if ce := apperrors.AsChatError(err); ce.Message != "Document ID is required" {
		t.Errorf("Unexpected validation message %q", ce.Message)
	}
}

func TestDocumentChatNotFound(t *testing.T) {
	p := newTestPipeline(t)

	_, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{Message: "question", DocumentID: "missing"})
	assertKind(t, err, apperrors.KindNotFound)
	if ce := apperrors.AsChatError(err); ce.Message != "Document not found" {
		t.Errorf("Unexpected message %q", ce.Message)
	}

	if p.embedder.calls != 0 || p.index.calls != 0 || p.completer.calls != 0 {
		t.Errorf("Expected no embedding, retrieval or completion calls")
	}
}

func TestDocumentChatForbidden(t *testing.T) {
	p := newTestPipeline(t)
	p.access.deny = true

	_, err := p.service.DocumentChat(context.Background(), "mallory", models.ChatRequest{Message: "question", DocumentID: "EPA-2024-001"})
	assertKind(t, err, apperrors.KindForbidden)
	if p.docs.calls != 0 || p.embedder.calls != 0 {
		t.Error("Expected pipeline to stop at authorization")
	}
}

func TestDocumentChatAccessValidatorFailure(t *testing.T) {
	p := newTestPipeline(t)
	p.access.err = errors.New("keto unavailable")

	_, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{Message: "question", DocumentID: "EPA-2024-001"})
	assertKind(t, err, apperrors.KindInternal)
}

func TestDocumentChatDocumentStoreFailure(t *testing.T) {
	p := newTestPipeline(t)
	p.docs.shouldFail = true
	// the mock validator reads the map directly, so it still grants access
	_, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{Message: "question", DocumentID: "EPA-2024-001"})
	assertKind(t, err, apperrors.KindInternal)
}

func TestUpstreamFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *testPipeline)
		kind  apperrors.Kind
	}{
		{"embedding failure", func(p *testPipeline) { p.embedder.shouldFail = true }, apperrors.KindUpstreamEmbedding},
		{"empty embedding", func(p *testPipeline) { p.embedder.vector = nil }, apperrors.KindUpstreamEmbedding},
		{"retrieval failure", func(p *testPipeline) { p.index.shouldFail = true }, apperrors.KindUpstreamRetrieval},
		{"completion failure", func(p *testPipeline) { p.completer.shouldFail = true }, apperrors.KindUpstreamCompletion},
		{"empty completion", func(p *testPipeline) { p.completer.text = "" }, apperrors.KindUpstreamCompletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t)
			tt.setup(p)

			_, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{Message: "question", DocumentID: "EPA-2024-001"})
			assertKind(t, err, tt.kind)

			if logs := p.flushLogs(t); len(logs) != 0 {
				t.Errorf("Expected no chat log without a completion, got %d", len(logs))
			}
		})
	}
}

func TestEmbeddingFailureSkipsRetrieval(t *testing.T) {
	p := newTestPipeline(t)
	p.embedder.shouldFail = true

	_, _ = p.service.RegulationChat(context.Background(), "alice", models.ChatRequest{Message: "question"})
	if p.index.calls != 0 || p.completer.calls != 0 {
		t.Error("Expected pipeline to stop after embedding failure")
	}
	if p.embedder.calls != 1 {
		t.Errorf("Expected exactly one embedding attempt, got %d", p.embedder.calls)
	}
}

func TestDuplicateRequestsProduceDuplicateLogs(t *testing.T) {
	p := newTestPipeline(t)
	req := models.ChatRequest{Message: "What is the comment deadline?", DocumentID: "EPA-2024-001"}

	for i := 0; i < 2; i++ {
		if _, err := p.service.DocumentChat(context.Background(), "alice", req); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	if p.completer.calls != 2 {
		t.Errorf("Expected 2 completion calls, got %d", p.completer.calls)
	}
	logs := p.flushLogs(t)
	if len(logs) != 2 {
		t.Fatalf("Expected 2 chat logs, got %d", len(logs))
	}
	if logs[0].ID == logs[1].ID {
		t.Error("Expected distinct chat log IDs")
	}
}

func TestLogFailureDoesNotChangeResponse(t *testing.T) {
	run := func(failLogs bool) []byte {
		p := newTestPipeline(t)
		p.logStore.shouldFail = failLogs
		p.index.chunks = []models.RetrievedChunk{{Text: "section", Score: 0.5, MetadataFilename: "EPA-2024-001"}}

		resp, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{Message: "question", DocumentID: "EPA-2024-001"})
		if err != nil {
			t.Fatalf("Unexpected error with failLogs=%v: %v", failLogs, err)
		}
		p.flushLogs(t)
		body, _ := json.Marshal(resp)
		return body
	}

	ok := run(false)
	failed := run(true)
	if string(ok) != string(failed) {
		t.Errorf("Expected identical responses, got %s vs %s", ok, failed)
	}
}

func TestRankOrderPreserved(t *testing.T) {
	p := newTestPipeline(t)
	p.index.chunks = []models.RetrievedChunk{
		{Text: "first ranked", Score: 0.91},
		{Text: "second ranked", Score: 0.95},
		{Text: "third ranked", Score: 0.40},
	}

	resp, err := p.service.RegulationChat(context.Background(), "alice", models.ChatRequest{Message: "question"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	prompt := p.completer.lastSystem
	if !strings.Contains(prompt, "first ranked\n\nsecond ranked\n\nthird ranked") {
		t.Errorf("Expected chunks in index order separated by blank lines, got:\n%s", prompt)
	}
	if *resp.Metadata.TopMatchScore != 0.91 {
		t.Errorf("Expected top match score from the first chunk, got %v", *resp.Metadata.TopMatchScore)
	}
}

func TestChunksCappedAtTopK(t *testing.T) {
	p := newTestPipeline(t)
	for i := 0; i < 8; i++ {
		p.index.chunks = append(p.index.chunks, models.RetrievedChunk{Text: "chunk", Score: 0.5})
	}

	resp, err := p.service.DocumentChat(context.Background(), "alice", models.ChatRequest{Message: "question", DocumentID: "EPA-2024-001"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Metadata.MatchCount != 5 {
		t.Errorf("Expected match count capped at 5, got %d", resp.Metadata.MatchCount)
	}
}
