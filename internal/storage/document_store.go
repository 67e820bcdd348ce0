package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"regdocs-chat/internal/models"
)

const documentColumns = `doc_id, title, agency_id, document_type, posted_date, modify_date,
	docket_id, open_for_comment, comment_start_date, comment_end_date, fr_doc_num, summary, relevant`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.DocumentMetadata, error) {
	var doc models.DocumentMetadata
	var openForComment, relevant int
	if err := row.Scan(
		&doc.DocID, &doc.Title, &doc.AgencyID, &doc.DocumentType, &doc.PostedDate, &doc.ModifyDate,
		&doc.DocketID, &openForComment, &doc.CommentStartDate, &doc.CommentEndDate, &doc.FRDocNum,
		&doc.Summary, &relevant,
	); err != nil {
		return nil, err
	}
	doc.OpenForComment = openForComment != 0
	doc.Relevant = relevant != 0
	return &doc, nil
}

// GetDocument returns the metadata for docID, or ErrNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, docID string) (*models.DocumentMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM federal_documents WHERE doc_id = ?`, docID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document %s: %w", docID, err)
	}
	return doc, nil
}

// ListDocuments returns all documents, most recently posted first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]models.DocumentMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM federal_documents ORDER BY posted_date DESC, doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	documents := []models.DocumentMetadata{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		documents = append(documents, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return documents, nil
}

// UpsertDocument inserts or replaces a document's metadata. The relevance
// flag of an existing row is preserved.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *models.DocumentMetadata) error {
	if doc.DocID == "" {
		return fmt.Errorf("document id is required")
	}

	query := `
		INSERT INTO federal_documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			title = excluded.title,
			agency_id = excluded.agency_id,
			document_type = excluded.document_type,
			posted_date = excluded.posted_date,
			modify_date = excluded.modify_date,
			docket_id = excluded.docket_id,
			open_for_comment = excluded.open_for_comment,
			comment_start_date = excluded.comment_start_date,
			comment_end_date = excluded.comment_end_date,
			fr_doc_num = excluded.fr_doc_num,
			summary = excluded.summary
	`
	if _, err := s.db.ExecContext(ctx, query,
		doc.DocID, doc.Title, doc.AgencyID, doc.DocumentType, doc.PostedDate, doc.ModifyDate,
		doc.DocketID, boolToInt(doc.OpenForComment), doc.CommentStartDate, doc.CommentEndDate,
		doc.FRDocNum, doc.Summary, boolToInt(doc.Relevant),
	); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.DocID, err)
	}
	return nil
}

// SetRelevant updates the relevance flag of a document.
func (s *SQLiteStore) SetRelevant(ctx context.Context, docID string, relevant bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE federal_documents SET relevant = ? WHERE doc_id = ?`, boolToInt(relevant), docID)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", docID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
