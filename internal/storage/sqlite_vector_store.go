package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/models"
)

const (
	initialMultiplier = 2
	growthFactor      = 2.0
	maxAttempts       = 10

	// sqlite-vec rejects KNN queries with k above this value
	maxKNN = 4096
)

// filterColumns are the chunk metadata fields a query filter may name.
var filterColumns = map[string]bool{
	"filename": true,
}

// SQLiteVectorStore is a namespaced chunk index backed by a sqlite-vec vec0
// table using cosine distance.
type SQLiteVectorStore struct {
	db *sql.DB

	mu         sync.Mutex
	dimensions int
}

// NewSQLiteVectorStore creates a vector index on an open database. The
// relational schema must already exist (see NewSQLiteStore).
func NewSQLiteVectorStore(db *sql.DB) (*SQLiteVectorStore, error) {
	store := &SQLiteVectorStore{db: db}

	dims, err := store.existingDimensions()
	if err != nil {
		return nil, err
	}
	store.dimensions = dims
	return store, nil
}

// existingDimensions reads the embedding width of an existing vec_chunks
// table, or 0 when the table has not been created yet.
func (s *SQLiteVectorStore) existingDimensions() (int, error) {
	var tableExists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='vec_chunks'").Scan(&tableExists)
	if err != nil {
		return 0, fmt.Errorf("failed to check vec_chunks existence: %w", err)
	}
	if tableExists == 0 {
		return 0, nil
	}

	var dims sql.NullInt64
	err = s.db.QueryRow("SELECT vec_length(embedding) FROM vec_chunks LIMIT 1").Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding length: %w", err)
	}
	return int(dims.Int64), nil
}

// ensureVecTableExists creates the vec_chunks table if it doesn't exist
func (s *SQLiteVectorStore) ensureVecTableExists(ctx context.Context, embeddingLen int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimensions != 0 && s.dimensions != embeddingLen {
		return fmt.Errorf("cannot change embedding length from %d to %d with existing chunks", s.dimensions, embeddingLen)
	}

	vecQuery := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			id TEXT PRIMARY KEY,
			embedding FLOAT[%d] distance_metric=cosine
		)
	`, embeddingLen)
	if _, err := s.db.ExecContext(ctx, vecQuery); err != nil {
		return fmt.Errorf("failed to create vec_chunks table: %w", err)
	}

	s.dimensions = embeddingLen
	return nil
}

func (s *SQLiteVectorStore) hasVecTable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensions != 0
}

// Upsert inserts or replaces chunks in namespace. Chunks without an ID get a
// fresh UUID.
func (s *SQLiteVectorStore) Upsert(ctx context.Context, namespace string, chunks []models.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	if err := s.ensureVecTableExists(ctx, len(chunks[0].Embedding)); err != nil {
		return fmt.Errorf("failed to ensure vec table exists: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range chunks {
		chunk := &chunks[i]
		if len(chunk.Embedding) != s.dimensions {
			return fmt.Errorf("chunk %d has %d dimensions, index expects %d", i, len(chunk.Embedding), s.dimensions)
		}
		if chunk.ID == "" {
			chunk.ID = uuid.New().String()
		}

		metadataQuery := `
			INSERT INTO chunks (id, namespace, filename, text)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				namespace = excluded.namespace,
				filename = excluded.filename,
				text = excluded.text
		`
		if _, err := tx.ExecContext(ctx, metadataQuery, chunk.ID, namespace, chunk.Filename, chunk.Text); err != nil {
			return fmt.Errorf("failed to upsert chunk metadata: %w", err)
		}

		// vec0 doesn't support UPDATE
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE id = ?`, chunk.ID); err != nil {
			return fmt.Errorf("failed to delete old vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_chunks (id, embedding) VALUES (?, ?)`,
			chunk.ID, serializeFloat32Vector(chunk.Embedding)); err != nil {
			return fmt.Errorf("failed to insert chunk vector: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// candidate is a KNN hit before namespace and metadata filtering.
type candidate struct {
	namespace string
	filename  string
	text      string
	distance  float32
}

func (c candidate) matches(namespace string, filter map[string]string) bool {
	if c.namespace != namespace {
		return false
	}
	for field, value := range filter {
		// filterColumns only holds "filename"
		if field == "filename" && c.filename != value {
			return false
		}
	}
	return true
}

// Query returns up to topK chunks in namespace most similar to vector, best
// first. Every filter entry must equal the chunk's metadata field. The
// candidate pool widens recursively until topK matches are found or the
// index is exhausted.
func (s *SQLiteVectorStore) Query(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]models.RetrievedChunk, error) {
	for field := range filter {
		if !filterColumns[field] {
			return nil, fmt.Errorf("unsupported filter field %q", field)
		}
	}
	if topK <= 0 || !s.hasVecTable() {
		return []models.RetrievedChunk{}, nil
	}

	return s.searchWithFilterRecursive(ctx, vector, topK, namespace, filter, initialMultiplier, 0)
}

// searchWithFilterRecursive recursively fetches more candidates until topK matching chunks are found
func (s *SQLiteVectorStore) searchWithFilterRecursive(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string, multiplier int, attempt int) ([]models.RetrievedChunk, error) {
	candidateCount := topK * multiplier
	if candidateCount > maxKNN {
		candidateCount = maxKNN
	}

	candidates, err := s.searchWithSqliteVec(ctx, vector, candidateCount)
	if err != nil {
		return nil, err
	}
	filtered := applyFilter(candidates, topK, namespace, filter)

	// Enough results, or every chunk in the index has been examined
	if len(filtered) >= topK || len(candidates) < candidateCount {
		return filtered, nil
	}

	// Matches may lie beyond the KNN limit; rank the filtered chunks exactly
	if candidateCount == maxKNN || attempt+1 >= maxAttempts {
		logger.Debug("only found %d/%d matching chunks in %d candidates, falling back to exact search", len(filtered), topK, candidateCount)
		return s.exactSearch(ctx, vector, topK, namespace, filter)
	}

	newMultiplier := int(float64(multiplier) * growthFactor)
	logger.Debug("only found %d/%d matching chunks, increasing search from %d to %d candidates (attempt %d/%d)",
		len(filtered), topK, candidateCount, topK*newMultiplier, attempt+1, maxAttempts)
	return s.searchWithFilterRecursive(ctx, vector, topK, namespace, filter, newMultiplier, attempt+1)
}

// applyFilter keeps matching candidates in rank order, up to topK
func applyFilter(candidates []candidate, topK int, namespace string, filter map[string]string) []models.RetrievedChunk {
	filtered := []models.RetrievedChunk{}
	for _, c := range candidates {
		if !c.matches(namespace, filter) {
			continue
		}
		filtered = append(filtered, models.RetrievedChunk{
			Text:             c.text,
			Score:            1 - c.distance,
			MetadataFilename: c.filename,
		})
		if len(filtered) >= topK {
			break
		}
	}
	return filtered
}

// searchWithSqliteVec performs KNN vector search using sqlite-vec
func (s *SQLiteVectorStore) searchWithSqliteVec(ctx context.Context, vector []float32, k int) ([]candidate, error) {
	// sqlite-vec requires the k parameter to be passed as part of the MATCH expression
	query := `
		SELECT
			c.namespace,
			c.filename,
			c.text,
			v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`

	rows, err := s.db.QueryContext(ctx, query, serializeFloat32Vector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}
	return scanCandidates(rows)
}

// exactSearch computes the cosine distance of every chunk in namespace that
// matches filter, using the (namespace, filename) index instead of KNN.
func (s *SQLiteVectorStore) exactSearch(ctx context.Context, vector []float32, topK int, namespace string, filter map[string]string) ([]models.RetrievedChunk, error) {
	query := `
		SELECT
			c.namespace,
			c.filename,
			c.text,
			vec_distance_cosine(v.embedding, ?) AS distance
		FROM chunks c
		JOIN vec_chunks v ON v.id = c.id
		WHERE c.namespace = ?`
	args := []any{serializeFloat32Vector(vector), namespace}
	if filename, ok := filter["filename"]; ok {
		query += ` AND c.filename = ?`
		args = append(args, filename)
	}
	query += ` ORDER BY distance LIMIT ?`
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to perform exact search: %w", err)
	}
	candidates, err := scanCandidates(rows)
	if err != nil {
		return nil, err
	}
	return applyFilter(candidates, topK, namespace, filter), nil
}

func scanCandidates(rows *sql.Rows) ([]candidate, error) {
	defer func() { _ = rows.Close() }()

	var results []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.namespace, &c.filename, &c.text, &c.distance); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// DeleteDocument removes every chunk of filename from namespace.
func (s *SQLiteVectorStore) DeleteDocument(ctx context.Context, namespace, filename string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.hasVecTable() {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE namespace = ? AND filename = ?`, namespace, filename)
		if err != nil {
			return fmt.Errorf("failed to list chunks of %s: %w", filename, err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan chunk id: %w", err)
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating chunk ids: %w", err)
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_chunks WHERE id = ?`, id); err != nil {
				return fmt.Errorf("failed to delete chunk vector: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE namespace = ? AND filename = ?`, namespace, filename); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", filename, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
