// Regdocs chat answers questions about federal regulatory documents using
// retrieval-augmented generation.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"regdocs-chat/internal/api"
	"regdocs-chat/internal/auth"
	"regdocs-chat/internal/chat"
	"regdocs-chat/internal/config"
	apperrors "regdocs-chat/internal/errors"
	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/providers"
	"regdocs-chat/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.Init(cfg.App.LogLevel, cfg.App.LogFormat)

	if err := run(cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting regdocs chat (env=%s, embedding=%s, completion=%s, index=%s, access=%s)",
		cfg.App.Environment, cfg.Providers.Embedding, cfg.Providers.Completion,
		cfg.Providers.VectorIndex, cfg.Security.AccessMode)

	store, err := storage.NewSQLiteStore(cfg.GetDatabaseDSN())
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("error closing database: %v", err)
		}
	}()

	embedder, err := providers.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	completer, err := providers.NewCompleter(cfg)
	if err != nil {
		return err
	}
	access, err := providers.NewAccessValidator(cfg, store)
	if err != nil {
		return err
	}
	index, closeIndex, err := providers.NewVectorIndex(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeIndex(context.Background()); err != nil {
			logger.Error("error closing vector index: %v", err)
		}
	}()

	recorder := chat.NewInteractionLogger(store, cfg.Chat.LogQueueSize, config.Seconds(cfg.Chat.LogWriteTimeout))
	service := chat.NewService(embedder, index, store, access,
		chat.NewGenerator(completer, cfg.Chat.Temperature), recorder,
		variantSettings(cfg.Chat.Document), variantSettings(cfg.Chat.Regulation))

	server := api.NewServer(service, store, store,
		auth.NewAuthenticator(cfg.Security.AuthMode, cfg.Security.Tokens),
		apperrors.NewErrorHandler(cfg))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeout),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeout),
		TLSConfig:    cfg.GetTLSConfig(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening on %s (tls=%t)", httpServer.Addr, cfg.Server.TLS.Enabled)
		if cfg.Server.TLS.Enabled {
			serveErr <- httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			serveErr <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server: %v", err)
	}
	// pending chat logs are flushed before the database closes
	if err := recorder.Close(shutdownCtx); err != nil {
		logger.Warn("chat logs not fully flushed: %v", err)
	}
	return nil
}

func variantSettings(v config.VariantConfig) chat.VariantSettings {
	return chat.VariantSettings{
		Namespace:   v.Namespace,
		TopK:        v.TopK,
		FilterField: v.FilterField,
		Model:       v.Model,
	}
}
