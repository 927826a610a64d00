// Package main provides the entry point for the fathom worker service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fathomdesk/fathom/internal/ai"
	"github.com/fathomdesk/fathom/internal/config"
	gormdb "github.com/fathomdesk/fathom/internal/db/gorm"
	"github.com/fathomdesk/fathom/internal/embedding"
	"github.com/fathomdesk/fathom/internal/fingerprint"
	"github.com/fathomdesk/fathom/internal/grouping"
	"github.com/fathomdesk/fathom/internal/notify"
	"github.com/fathomdesk/fathom/internal/worker"
	"github.com/fathomdesk/fathom/pkg/models"
)

var Version = "dev"

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log.Info().
		Str("version", Version).
		Msg("Starting fathom worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	store, err := gormdb.NewStore(gormdb.Config{
		DSN:           cfg.DatabaseURL,
		MaxConns:      cfg.MaxConns,
		EmbeddingDims: cfg.EmbeddingDimensions,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer store.Close()

	conversationStore := gormdb.NewConversationStore(store)
	groupStore := gormdb.NewGroupStore(store)
	batchLock := gormdb.NewBatchLock(store)

	completer, err := ai.NewCompleter(cfg.CompletionProvider, ai.Config{
		BaseURL:       cfg.CompletionBaseURL,
		APIKey:        cfg.CompletionAPIKey,
		Model:         cfg.CompletionModel,
		ContextTokens: cfg.ContextTokens,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create completion client")
	}

	embedder, err := embedding.NewOpenAIEmbedder(embedding.Config{
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create embedding client")
	}

	generator, err := fingerprint.NewGenerator(completer, embedder, conversationStore, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create fingerprint generator")
	}

	labeler := grouping.NewLabeler(completer, log.Logger)
	categorizer := grouping.NewCategorizer(completer, &categorizeSource{
		conversations: conversationStore,
		groups:        groupStore,
	}, log.Logger)
	backfiller := grouping.NewBackfiller(conversationStore, generator, log.Logger)

	// Redis is optional; when unconfigured, events only reach SSE clients.
	var redisNotifier notify.Notifier
	if cfg.RedisURL != "" {
		rn, err := notify.NewRedisNotifier(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rn.Close()
		redisNotifier = rn
	}

	builder := grouping.NewBuilder(
		grouping.BuilderConfig{
			SimilarityThreshold: cfg.SimilarityThreshold,
			BatchSize:           cfg.BatchSize,
		},
		conversationStore,
		groupStore,
		labeler,
		nil, // notifier needs the HTTP service's broadcaster, wired below
		batchLock,
		log.Logger,
	)

	svc := worker.NewService(Version, worker.Deps{
		Groups:      groupStore,
		Memberships: conversationStore,
		Runner:      builder,
		Backfiller:  backfiller,
		Categorizer: categorizer,
	}, log.Logger)

	builder.SetNotifier(notify.NewFanout(log.Logger,
		worker.NewSSENotifier(svc.Broadcaster()),
		redisNotifier,
	))

	scheduler := grouping.NewScheduler(builder, cfg.BatchInterval, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go scheduler.Start(ctx)

	if err := svc.Start(ctx, cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}

	scheduler.Stop()
	log.Info().Msg("Worker shutdown complete")
}

// categorizeSource combines the conversation and group stores into the
// categorizer's view. Both stores have a GetByID, so embedding is not an
// option.
type categorizeSource struct {
	conversations *gormdb.ConversationStore
	groups        *gormdb.GroupStore
}

func (s *categorizeSource) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	return s.conversations.GetByID(ctx, id)
}

func (s *categorizeSource) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return s.conversations.Messages(ctx, conversationID)
}

func (s *categorizeSource) AssignGroup(ctx context.Context, conversationID, groupID int64) error {
	return s.conversations.AssignGroup(ctx, conversationID, groupID)
}

func (s *categorizeSource) Candidates(ctx context.Context) ([]models.IssueGroup, error) {
	return s.groups.Candidates(ctx)
}
