package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	apperrors "regdocs-chat/internal/errors"
	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/models"
)

// gatedLogStore blocks every write until release is closed.
type gatedLogStore struct {
	MockLogStore
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *gatedLogStore) InsertChatLog(ctx context.Context, entry *models.ChatLog) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.MockLogStore.InsertChatLog(ctx, entry)
}

func TestInteractionLoggerDrainsOnClose(t *testing.T) {
	store := &MockLogStore{}
	l := NewInteractionLogger(store, 4, time.Second)

	for i := 0; i < 10; i++ {
		l.Log(models.ChatLog{ID: fmt.Sprintf("log-%d", i), UserID: "alice"})
	}

	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if got := len(store.Entries()); got != 10 {
		t.Errorf("Expected 10 entries after drain, got %d", got)
	}
}

func TestInteractionLoggerDoesNotBlockWhenFull(t *testing.T) {
	store := &gatedLogStore{release: make(chan struct{}), started: make(chan struct{})}
	l := NewInteractionLogger(store, 1, 5*time.Second)

	l.Log(models.ChatLog{UserID: "alice"})
	<-store.started // worker is now stuck on the first write

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			l.Log(models.ChatLog{UserID: "alice"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked while the store was stalled")
	}

	close(store.release)
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if got := len(store.Entries()); got != 6 {
		t.Errorf("Expected 6 entries, got %d", got)
	}
}

func TestInteractionLoggerCloseTimeout(t *testing.T) {
	store := &gatedLogStore{release: make(chan struct{}), started: make(chan struct{})}
	l := NewInteractionLogger(store, 1, 5*time.Second)
	defer close(store.release)

	l.Log(models.ChatLog{UserID: "alice"})
	<-store.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Close(ctx); err == nil {
		t.Error("Expected Close to give up when ctx expires")
	}
}

func TestInteractionLoggerDropsAfterClose(t *testing.T) {
	store := &MockLogStore{}
	l := NewInteractionLogger(store, 1, time.Second)
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	l.Log(models.ChatLog{UserID: "alice"})
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	if got := len(store.Entries()); got != 0 {
		t.Errorf("Expected no entries after close, got %d", got)
	}
}

func TestInteractionLoggerStoreFailureIsSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger.Init("info", "json")
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.Init("info", "text")
		logger.SetOutput(os.Stdout)
	})

	store := &MockLogStore{shouldFail: true}
	l := NewInteractionLogger(store, 1, time.Second)

	l.Log(models.ChatLog{UserID: "alice"})
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Expected Close to succeed despite store failures, got %v", err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("Expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["kind"] != string(apperrors.KindLogging) || entry["level"] != "error" {
		t.Errorf("Expected an error entry of kind logging, got %v", entry)
	}
}
