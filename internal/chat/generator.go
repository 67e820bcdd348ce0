package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"regdocs-chat/internal/llm"
	"regdocs-chat/internal/models"
)

// ErrNoResponse is returned when the completion produced no answer text.
var ErrNoResponse = errors.New("no response generated")

// Generator builds the grounded system instruction and runs the completion.
type Generator struct {
	completer   Completer
	temperature float32
}

func NewGenerator(completer Completer, temperature float32) *Generator {
	return &Generator{completer: completer, temperature: temperature}
}

// GenerateRequest is one grounded completion. Document is nil for
// regulation chat; Chunks keep the order the index ranked them in.
type GenerateRequest struct {
	Model    string
	Message  string
	Document *models.DocumentMetadata
	Chunks   []models.RetrievedChunk
}

func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*llm.Completion, error) {
	systemPrompt := BuildSystemPrompt(req.Document, req.Chunks)

	completion, err := g.completer.Complete(ctx, req.Model, systemPrompt, req.Message, g.temperature)
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return nil, ErrNoResponse
	}
	if err != nil {
		return nil, err
	}
	if completion == nil || strings.TrimSpace(completion.Text) == "" {
		return nil, ErrNoResponse
	}
	return completion, nil
}

// BuildSystemPrompt assembles the system instruction. A nil document selects
// the regulation prompt, which may fall back to general knowledge when
// nothing was retrieved.
func BuildSystemPrompt(doc *models.DocumentMetadata, chunks []models.RetrievedChunk) string {
	var b strings.Builder

	if doc != nil {
		b.WriteString("You are an AI assistant helping with questions about a specific federal document.\n\n")
		b.WriteString("DOCUMENT CONTEXT:\n")
		fmt.Fprintf(&b, "Title: %s\n", doc.Title)
		fmt.Fprintf(&b, "Agency: %s\n", doc.AgencyID)
		fmt.Fprintf(&b, "Type: %s\n", doc.DocumentType)
		fmt.Fprintf(&b, "Date: %s\n\n", doc.PostedDate)
	} else {
		b.WriteString("You are an AI assistant answering questions about major federal regulations.\n\n")
	}

	b.WriteString("RELEVANT SECTIONS:\n")
	if len(chunks) == 0 {
		b.WriteString("No specific sections were found for this question.\n\n")
	} else {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		b.WriteString(strings.Join(texts, "\n\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("Instructions:\n")
	switch {
	case len(chunks) > 0 && doc != nil:
		b.WriteString("1. Base your responses on the provided document sections above\n")
		b.WriteString("2. If specific information is found in the text, cite or quote it\n")
		b.WriteString("3. If you cannot find relevant information in the provided sections, say so\n")
		b.WriteString("4. Be precise and factual when discussing the document's content\n")
		b.WriteString("5. Only make statements that are directly supported by the document content\n")
	case len(chunks) > 0:
		b.WriteString("1. Only use the regulation sections above to answer the question\n")
		b.WriteString("2. If specific information is found in the text, cite or quote it\n")
		b.WriteString("3. If you don't know the answer from these sections, tell the user that you don't know\n")
		b.WriteString("4. Be precise and factual\n")
		b.WriteString("5. Don't make anything up\n")
	case doc != nil:
		b.WriteString("1. Tell the user that no specific sections of this document matched the question\n")
		b.WriteString("2. Give a general answer based only on the document context above\n")
		b.WriteString("3. Do not invent quotes, section numbers or requirements\n")
		b.WriteString("4. Be precise and factual\n")
	default:
		b.WriteString("1. Tell the user that no matching regulation sections were found\n")
		b.WriteString("2. You may answer from general knowledge, but state clearly that the answer is not grounded in retrieved regulation text\n")
		b.WriteString("3. If you don't know the answer, tell the user that you don't know\n")
		b.WriteString("4. Don't make anything up\n")
	}

	return b.String()
}
