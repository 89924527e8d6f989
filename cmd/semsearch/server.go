package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/relaychat/semsearch/internal/api"
	"github.com/relaychat/semsearch/internal/backoff"
	"github.com/relaychat/semsearch/internal/breaker"
	"github.com/relaychat/semsearch/internal/config"
	"github.com/relaychat/semsearch/internal/embedding"
	"github.com/relaychat/semsearch/internal/indexer"
	"github.com/relaychat/semsearch/internal/messages"
	"github.com/relaychat/semsearch/internal/metadata"
	"github.com/relaychat/semsearch/internal/metrics"
	"github.com/relaychat/semsearch/internal/normalize"
	"github.com/relaychat/semsearch/internal/search"
	"github.com/relaychat/semsearch/internal/vecindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the semsearch server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Serve MCP tools on stdio for assistant integrations.

Point your MCP client at "semsearch mcp". Stdout carries the protocol;
logs go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "semsearch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Server.AuthToken == "" {
		return fmt.Errorf("missing required config: server auth token. " +
			"Set it via environment variable SEMSEARCH_API_TOKEN")
	}

	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := messages.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	m := metrics.New()

	embedBreaker := breaker.New("embedding", breakerConfig(cfg))
	indexBreaker := breaker.New("index", breakerConfig(cfg))

	embedder := embedding.NewRetrying(
		buildEmbedClient(cfg),
		retryPolicy(cfg),
		embedBreaker,
		cfg.Embedding.Timeout,
		func(result string) { m.RecordAttempt("embedding", result) },
	)

	backend, err := buildIndexBackend(ctx, cfg, store)
	if err != nil {
		return err
	}
	index := vecindex.NewRetrying(
		backend,
		retryPolicy(cfg),
		indexBreaker,
		cfg.Index.Timeout,
		func(result string) { m.RecordAttempt("index", result) },
	)

	norm := normalize.New(cfg.Embedding.MaxChars)

	ix := indexer.New(store, embedder, index, norm, metadata.NewExtractor(cfg.Indexer.KeywordCap), indexer.Config{
		Workers:       cfg.Indexer.Workers,
		QueueCapacity: cfg.Indexer.QueueCapacity,
		SweepInterval: cfg.Indexer.SweepInterval,
		SweepMinAge:   cfg.Indexer.SweepMinAge,
	}, m.RecordIndexOutcome)
	defer ix.Close()
	go ix.RunSweeper(ctx)

	searcher := search.New(embedder, index, store, norm, searchConfig(cfg), embedBreaker, indexBreaker)

	m.WatchQueueDepth(ix.QueueDepth)
	m.WatchCircuit("embedding", embedBreaker.State)
	m.WatchCircuit("index", indexBreaker.State)

	handler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Events:   ix,
		Searcher: searcher,
		Token:    cfg.Server.AuthToken,
		Breakers: []*breaker.Breaker{embedBreaker, indexBreaker},
		Metrics:  m,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "semsearch listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout. The indexer drains its queue in the
	// deferred Close once no new requests can arrive.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := messages.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	embedBreaker := breaker.New("embedding", breakerConfig(cfg))
	indexBreaker := breaker.New("index", breakerConfig(cfg))

	embedder := embedding.NewRetrying(buildEmbedClient(cfg), retryPolicy(cfg), embedBreaker, cfg.Embedding.Timeout, nil)

	backend, err := buildIndexBackend(ctx, cfg, store)
	if err != nil {
		return err
	}
	index := vecindex.NewRetrying(backend, retryPolicy(cfg), indexBreaker, cfg.Index.Timeout, nil)

	norm := normalize.New(cfg.Embedding.MaxChars)
	searcher := search.New(embedder, index, store, norm, searchConfig(cfg), embedBreaker, indexBreaker)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Searcher: searcher,
		Store:    store,
	})

	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch {
	case strings.EqualFold(level, "debug"):
		logLevel = slog.LevelDebug
	case strings.EqualFold(level, "warn"):
		logLevel = slog.LevelWarn
	case strings.EqualFold(level, "error"):
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func buildEmbedClient(cfg config.Config) embedding.Client {
	if cfg.Embedding.Provider == "ollama" {
		return embedding.NewOllama(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	}
	return embedding.NewOpenAI(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
}

func buildIndexBackend(ctx context.Context, cfg config.Config, store *messages.SQLite) (vecindex.Index, error) {
	if cfg.Index.Backend == "sqlite" {
		return vecindex.NewSQLite(store.DB(), cfg.Index.OverfetchFactor), nil
	}
	q := vecindex.NewQdrant(cfg.Index.BaseURL, cfg.Index.APIKey, cfg.Index.Collection, cfg.Embedding.Dimensions)
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("preparing vector collection %q: %w", cfg.Index.Collection, err)
	}
	return q, nil
}

func breakerConfig(cfg config.Config) breaker.Config {
	return breaker.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Window:           cfg.Circuit.Window,
		Cooldown:         cfg.Circuit.Cooldown,
	}
}

func retryPolicy(cfg config.Config) backoff.Policy {
	return backoff.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Base:        cfg.Retry.Base,
		Jitter:      cfg.Retry.Jitter,
	}
}

func searchConfig(cfg config.Config) search.Config {
	return search.Config{
		Deadline:      cfg.Search.Deadline,
		MinQueryChars: cfg.Search.MinQueryChars,
		MaxQueryChars: cfg.Search.MaxQueryChars,
		DefaultLimit:  cfg.Search.DefaultLimit,
		MaxLimit:      cfg.Search.MaxLimit,
		Weights: search.Weights{
			Similarity:     cfg.Search.SimilarityWeight,
			Recency:        cfg.Search.RecencyWeight,
			RecencyHorizon: cfg.Search.RecencyHorizon,
			MinSimilarity:  cfg.Search.MinSimilarity,
		},
	}
}
