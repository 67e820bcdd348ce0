// Package permissions provides interfaces and implementations for document
// access control.
package permissions

import (
	"context"

	"regdocs-chat/internal/models"
)

// AccessValidator decides whether a user may chat about a document.
// Implementations report a missing document by returning storage.ErrNotFound.
type AccessValidator interface {
	Validate(ctx context.Context, userID, documentID string) (bool, error)
}

// DocumentLookup resolves document metadata by ID.
type DocumentLookup interface {
	GetDocument(ctx context.Context, docID string) (*models.DocumentMetadata, error)
}
