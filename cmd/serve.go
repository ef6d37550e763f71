package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/alanbjordan/Veteran-Support-Agent/api"
	"github.com/alanbjordan/Veteran-Support-Agent/db"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/analytics"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/chat"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/config"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/corpus"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/credits"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/llm"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/log"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/pinecone"
	"github.com/alanbjordan/Veteran-Support-Agent/internal/rag"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)
	logger.Info("starting Veteran Support Agent", "version", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("creating connection pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	chatClient, err := llm.NewClient(cfg.OpenAIAPIKey, cfg.ChatModel, logger)
	if err != nil {
		return fmt.Errorf("creating chat client: %w", err)
	}
	normalizerClient, err := llm.NewClient(cfg.OpenAIAPIKey, cfg.NormalizerModel, logger)
	if err != nil {
		return fmt.Errorf("creating normalizer client: %w", err)
	}
	embedder, err := llm.NewEmbedder(cfg.OpenAIAPIKey, llm.EmbeddingSmall, logger)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	vectorIndex, err := pinecone.New(pinecone.Config{
		APIKey: cfg.PineconeAPIKey,
		Hosts: map[pinecone.Index]string{
			pinecone.IndexCFR: cfg.CFRIndexHost,
			pinecone.IndexM21: cfg.M21IndexHost,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("creating vector index client: %w", err)
	}

	passages := corpus.NewStore([]corpus.Source{
		{Corpus: corpus.CorpusCFR, Partition: "3", URL: cfg.CFRPart3URL},
		{Corpus: corpus.CorpusCFR, Partition: "4", URL: cfg.CFRPart4URL},
		{Corpus: corpus.CorpusM21, Partition: "M21-1", URL: cfg.M21v1URL},
		{Corpus: corpus.CorpusM21, Partition: "M21-5", URL: cfg.M21v5URL},
	}, logger)

	analyticsStore := analytics.NewStore(pool, logger)
	creditStore := credits.NewStore(pool, logger)
	meter := credits.NewMeter(creditStore, analyticsStore, logger)

	normalizer := rag.NewNormalizer(normalizerClient, logger)
	searcher := rag.NewSearcher(normalizer, embedder, vectorIndex, passages, meter, 0, logger)

	chatService := chat.NewService(chatClient, searcher, analyticsStore, meter, logger)

	server := api.NewServer(pool, chatService, searcher, analyticsStore, logger)
	return server.Run(ctx, cfg.ListenAddr)
}
