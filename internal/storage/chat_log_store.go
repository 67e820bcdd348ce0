package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regdocs-chat/internal/models"
)

// InsertChatLog persists one chat interaction. A missing ID or timestamp is
// filled in.
func (s *SQLiteStore) InsertChatLog(ctx context.Context, entry *models.ChatLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO chat_logs (id, user_id, chat_type, document_id, prompt, response, embedding, tokens_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, string(entry.ChatType), entry.DocumentID, entry.Prompt, entry.Response,
		serializeFloat32Vector(entry.Embedding), entry.TokensUsed, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert chat log: %w", err)
	}
	return nil
}

// ListChatLogs returns a user's chat logs, newest first. Embeddings are not
// loaded.
func (s *SQLiteStore) ListChatLogs(ctx context.Context, userID string) ([]models.ChatLog, error) {
	return s.queryChatLogs(ctx, `WHERE user_id = ?`, userID)
}

// ListDocumentChats returns a user's document chats about docID, newest first.
func (s *SQLiteStore) ListDocumentChats(ctx context.Context, userID, docID string) ([]models.ChatLog, error) {
	return s.queryChatLogs(ctx, `WHERE user_id = ? AND chat_type = ? AND document_id = ?`,
		userID, string(models.ChatTypeDocument), docID)
}

// GetChatLog returns a single chat log including its embedding.
func (s *SQLiteStore) GetChatLog(ctx context.Context, id string) (*models.ChatLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, chat_type, document_id, prompt, response, embedding, tokens_used, created_at
		FROM chat_logs WHERE id = ?`, id)

	var entry models.ChatLog
	var chatType string
	var embedding []byte
	if err := row.Scan(&entry.ID, &entry.UserID, &chatType, &entry.DocumentID, &entry.Prompt,
		&entry.Response, &embedding, &entry.TokensUsed, &entry.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query chat log %s: %w", id, err)
	}
	entry.ChatType = models.ChatType(chatType)
	entry.Embedding = deserializeFloat32Vector(embedding)
	return &entry, nil
}

// DeleteChatLog removes one of userID's chat logs. Logs owned by other users
// are reported as ErrNotFound.
func (s *SQLiteStore) DeleteChatLog(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_logs WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat log %s: %w", id, err)
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

func (s *SQLiteStore) queryChatLogs(ctx context.Context, where string, args ...any) ([]models.ChatLog, error) {
	query := `
		SELECT id, user_id, chat_type, document_id, prompt, response, tokens_used, created_at
		FROM chat_logs ` + where + `
		ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := []models.ChatLog{}
	for rows.Next() {
		var entry models.ChatLog
		var chatType string
		if err := rows.Scan(&entry.ID, &entry.UserID, &chatType, &entry.DocumentID, &entry.Prompt,
			&entry.Response, &entry.TokensUsed, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat log: %w", err)
		}
		entry.ChatType = models.ChatType(chatType)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat logs: %w", err)
	}
	return logs, nil
}
