package chat

import (
	"context"
	"sync"
	"time"

	apperrors "regdocs-chat/internal/errors"
	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/models"
)

// InteractionLogger persists chat logs off the response path. Entries are
// queued for a background worker; when the queue is full the entry is
// written by its own goroutine. Write failures are only logged.
type InteractionLogger struct {
	store        LogStore
	writeTimeout time.Duration

	queue    chan models.ChatLog
	wg       sync.WaitGroup // worker plus overflow writers
	closeMu  sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

func NewInteractionLogger(store LogStore, queueSize int, writeTimeout time.Duration) *InteractionLogger {
	if queueSize < 1 {
		queueSize = 1
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	l := &InteractionLogger{
		store:        store,
		writeTimeout: writeTimeout,
		queue:        make(chan models.ChatLog, queueSize),
	}

	l.wg.Add(1)
	go l.run()
	return l
}

// Log enqueues entry and returns immediately.
func (l *InteractionLogger) Log(entry models.ChatLog) {
	l.closeMu.RLock()
	defer l.closeMu.RUnlock()

	if l.closed {
		logger.Warn("interaction logger closed, dropping chat log for user %s", entry.UserID)
		return
	}

	select {
	case l.queue <- entry:
	default:
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.write(entry)
		}()
	}
}

func (l *InteractionLogger) run() {
	defer l.wg.Done()
	for entry := range l.queue {
		l.write(entry)
	}
}

func (l *InteractionLogger) write(entry models.ChatLog) {
	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()

	if err := l.store.InsertChatLog(ctx, &entry); err != nil {
		logErr := apperrors.NewLogging(err)
		logger.Event(logger.LevelError, logErr.Message, map[string]interface{}{
			"kind":      string(logErr.Kind),
			"user_id":   entry.UserID,
			"chat_type": string(entry.ChatType),
			"error":     logErr.Error(),
		})
		return
	}
	logger.Debug("logged %s chat %s for user %s", entry.ChatType, entry.ID, entry.UserID)
}

// Close stops accepting entries and waits for queued writes to finish or
// ctx to expire.
func (l *InteractionLogger) Close(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.closeMu.Lock()
		l.closed = true
		close(l.queue)
		l.closeMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
