// Command ingest loads federal documents into the document store and the
// configured vector index.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"regdocs-chat/internal/config"
	"regdocs-chat/internal/ingest"
	"regdocs-chat/internal/logger"
	"regdocs-chat/internal/permissions"
	"regdocs-chat/internal/providers"
	"regdocs-chat/internal/storage"
)

func main() {
	file := flag.String("file", "", "JSON file of {document, text} entries")
	namespace := flag.String("namespace", "", "Index namespace (default: the document chat namespace)")
	batchSize := flag.Int("batch", 32, "Chunks per embedding request")
	maxChars := flag.Int("max-chars", ingest.DefaultMaxChunkChars, "Maximum characters per chunk")
	viewers := flag.String("viewers", "", "Comma-separated users granted viewer access in Keto")
	debug := flag.Bool("debug", false, "Enable debug output")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env: %v", err)
	}

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -file documents.json [-namespace ns] [-viewers alice,bob]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		color.Red("failed to load configuration: %v", err)
		os.Exit(1)
	}
	level := cfg.App.LogLevel
	if *debug {
		level = "debug"
	}
	logger.Init(level, cfg.App.LogFormat)

	if *namespace == "" {
		*namespace = cfg.Chat.Document.Namespace
	}

	if err := run(cfg, *file, *namespace, *batchSize, *maxChars, splitUsers(*viewers)); err != nil {
		color.Red("ingest failed: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, file, namespace string, batchSize, maxChars int, viewers []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	entries, err := ingest.LoadEntries(file)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStore(cfg.GetDatabaseDSN())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	embedder, err := providers.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	index, closeIndex, err := providers.NewVectorIndex(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer func() { _ = closeIndex(context.Background()) }()

	var keto *permissions.KetoPermissionService
	if len(viewers) > 0 {
		k := cfg.Services.Keto
		keto = permissions.NewKetoPermissionService(k.ReadURL, k.WriteURL, config.Seconds(k.Timeout))
	}

	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("Ingesting %s documents into %s using %s\n",
		bold(len(entries)), bold(namespace), embedder.ModelInfo())

	ingester := ingest.NewIngester(embedder, index, store, namespace, batchSize, maxChars)
	total, failed := 0, 0
	for i, entry := range entries {
		n, err := ingester.Ingest(ctx, entry)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			color.Red("[%d/%d] %s: %v", i+1, len(entries), entry.Document.DocID, err)
			continue
		}
		total += n

		status := green("ok")
		if n == 0 {
			status = yellow("metadata only")
		}
		fmt.Printf("[%d/%d] %s: %d chunks %s\n", i+1, len(entries), entry.Document.DocID, n, status)

		for _, user := range viewers {
			if err := keto.GrantViewer(ctx, user, entry.Document.DocID); err != nil {
				color.Yellow("  could not grant %s access to %s: %v", user, entry.Document.DocID, err)
			}
		}
	}

	fmt.Printf("Done: %s chunks from %d documents", bold(total), len(entries)-failed)
	if failed > 0 {
		fmt.Printf(", %s", color.RedString("%d failed", failed))
	}
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(entries))
	}
	return nil
}

func splitUsers(s string) []string {
	var users []string
	for _, u := range strings.Split(s, ",") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	return users
}
