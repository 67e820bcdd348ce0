// Package storage provides SQLite persistence for document metadata, chat
// logs and chunk embeddings, plus a Milvus vector index backend.
package storage

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver
)

func init() {
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore owns the database connection shared by the document store,
// the chat log store and the SQLite vector index.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and creates the relational schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initDB(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initDB() error {
	statements := []struct {
		name  string
		query string
	}{
		{"federal_documents", `
		CREATE TABLE IF NOT EXISTS federal_documents (
			doc_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			agency_id TEXT NOT NULL DEFAULT '',
			document_type TEXT NOT NULL DEFAULT '',
			posted_date TEXT NOT NULL DEFAULT '',
			modify_date TEXT NOT NULL DEFAULT '',
			docket_id TEXT NOT NULL DEFAULT '',
			open_for_comment INTEGER NOT NULL DEFAULT 0,
			comment_start_date TEXT NOT NULL DEFAULT '',
			comment_end_date TEXT NOT NULL DEFAULT '',
			fr_doc_num TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			relevant INTEGER NOT NULL DEFAULT 0
		)`},
		{"chat_logs", `
		CREATE TABLE IF NOT EXISTS chat_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			chat_type TEXT NOT NULL,
			document_id TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			response TEXT NOT NULL,
			embedding BLOB,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`},
		{"chat_logs user index", `CREATE INDEX IF NOT EXISTS idx_chat_logs_user ON chat_logs (user_id, created_at)`},
		{"chunks", `
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			filename TEXT NOT NULL,
			text TEXT NOT NULL
		)`},
		{"chunks namespace index", `CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks (namespace, filename)`},
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	// vec_chunks is created on first upsert, once the embedding dimension is known
	return nil
}

// DB exposes the underlying connection for the vector index.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// serializeFloat32Vector converts a float32 slice to the byte format expected by sqlite-vec
func serializeFloat32Vector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
	return buf
}

func deserializeFloat32Vector(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : (i+1)*4]))
	}
	return vec
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
