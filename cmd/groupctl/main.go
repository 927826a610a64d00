// Package main provides groupctl, the operational CLI for the fathom
// clustering engine. It talks to the database and AI providers directly,
// so batch runs and backfills can be driven without the worker service.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fathomdesk/fathom/internal/ai"
	"github.com/fathomdesk/fathom/internal/config"
	gormdb "github.com/fathomdesk/fathom/internal/db/gorm"
	"github.com/fathomdesk/fathom/internal/embedding"
	"github.com/fathomdesk/fathom/internal/fingerprint"
	"github.com/fathomdesk/fathom/internal/grouping"
	"github.com/fathomdesk/fathom/pkg/models"
)

var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	_ = godotenv.Load()

	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd creates the groupctl root command.
func NewRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "groupctl",
		Short: "Operate the fathom issue group clustering engine",
		Long: `groupctl drives the fathom clustering engine directly.

Examples:
  # Run one batch clustering run
  groupctl run

  # Fingerprint conversations that are missing one
  groupctl backfill --limit 100

  # List issue groups with member counts
  groupctl groups

  # Show one group and its members
  groupctl groups 42

  # Classify a single conversation against existing groups
  groupctl categorize 1337`,
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				log.Logger = log.Logger.Level(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewBackfillCmd())
	rootCmd.AddCommand(NewGroupsCmd())
	rootCmd.AddCommand(NewCategorizeCmd())

	return rootCmd
}

// env bundles everything the subcommands wire up.
type env struct {
	cfg           *config.Config
	store         *gormdb.Store
	conversations *gormdb.ConversationStore
	groups        *gormdb.GroupStore
	lock          *gormdb.BatchLock
}

func newEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	store, err := gormdb.NewStore(gormdb.Config{
		DSN:           cfg.DatabaseURL,
		MaxConns:      cfg.MaxConns,
		EmbeddingDims: cfg.EmbeddingDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &env{
		cfg:           cfg,
		store:         store,
		conversations: gormdb.NewConversationStore(store),
		groups:        gormdb.NewGroupStore(store),
		lock:          gormdb.NewBatchLock(store),
	}, nil
}

func (e *env) close() {
	_ = e.store.Close()
}

func (e *env) completer() (ai.Completer, error) {
	return ai.NewCompleter(e.cfg.CompletionProvider, ai.Config{
		BaseURL:       e.cfg.CompletionBaseURL,
		APIKey:        e.cfg.CompletionAPIKey,
		Model:         e.cfg.CompletionModel,
		ContextTokens: e.cfg.ContextTokens,
	})
}

func (e *env) embedder() (embedding.Embedder, error) {
	return embedding.NewOpenAIEmbedder(embedding.Config{
		BaseURL:    e.cfg.EmbeddingBaseURL,
		APIKey:     e.cfg.EmbeddingAPIKey,
		Model:      e.cfg.EmbeddingModel,
		Dimensions: e.cfg.EmbeddingDimensions,
	})
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one batch clustering run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			completer, err := e.completer()
			if err != nil {
				return err
			}

			builder := grouping.NewBuilder(
				grouping.BuilderConfig{
					SimilarityThreshold: e.cfg.SimilarityThreshold,
					BatchSize:           e.cfg.BatchSize,
				},
				e.conversations,
				e.groups,
				grouping.NewLabeler(completer, log.Logger),
				nil,
				e.lock,
				log.Logger,
			)

			result, err := builder.RunBatch(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("Processed:            %d\n", result.Processed)
			fmt.Printf("Groups created:       %d\n", result.Created)
			fmt.Printf("Skipped:              %d\n", result.Skipped)
			fmt.Printf("Missing fingerprints: %d\n", result.MissingFingerprints)
			return nil
		},
	}
}

// NewBackfillCmd creates the backfill subcommand.
func NewBackfillCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fingerprint conversations that are missing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			completer, err := e.completer()
			if err != nil {
				return err
			}
			embedder, err := e.embedder()
			if err != nil {
				return err
			}

			generator, err := fingerprint.NewGenerator(completer, embedder, e.conversations, log.Logger)
			if err != nil {
				return err
			}

			backfiller := grouping.NewBackfiller(e.conversations, generator, log.Logger)
			result, err := backfiller.Run(cmd.Context(), limit)
			if err != nil {
				return err
			}

			fmt.Printf("Requested: %d\n", result.Requested)
			fmt.Printf("Generated: %d\n", result.Generated)
			fmt.Printf("Failed:    %d\n", result.Failed)
			fmt.Printf("Too long:  %d\n", result.TooLong)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum conversations to fingerprint")
	return cmd
}

// NewGroupsCmd creates the groups subcommand.
func NewGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "groups [id]",
		Short: "List issue groups, or show one with its members",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			if len(args) == 0 {
				return listGroups(cmd.Context(), e)
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group id %q", args[0])
			}
			return showGroup(cmd.Context(), e, id)
		},
	}
}

func listGroups(ctx context.Context, e *env) error {
	groups, err := e.groups.ListWithCounts(ctx)
	if err != nil {
		return err
	}

	if len(groups) == 0 {
		fmt.Println("No issue groups.")
		return nil
	}

	fmt.Printf("%-8s %-8s %s\n", "ID", "MEMBERS", "TITLE")
	for _, g := range groups {
		fmt.Printf("%-8d %-8d %s\n", g.ID, g.MemberCount, g.Title)
	}
	return nil
}

func showGroup(ctx context.Context, e *env, id int64) error {
	group, err := e.groups.GetByID(ctx, id)
	if err != nil {
		return err
	}
	members, err := e.groups.Members(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Group #%d: %s\n", group.ID, group.Title)
	if group.Description != "" {
		fmt.Printf("Description: %s\n", group.Description)
	}
	fmt.Printf("Members: %d\n", len(members))
	for _, m := range members {
		fmt.Printf("  #%-8d %-10s %s\n", m.ID, m.Status, orDash(m.Subject))
	}
	return nil
}

// NewCategorizeCmd creates the categorize subcommand.
func NewCategorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categorize <conversation-id>",
		Short: "Classify one conversation against existing issue groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid conversation id %q", args[0])
			}

			e, err := newEnv()
			if err != nil {
				return err
			}
			defer e.close()

			completer, err := e.completer()
			if err != nil {
				return err
			}

			categorizer := grouping.NewCategorizer(completer, &categorizeSource{e: e}, log.Logger)
			result, err := categorizer.Categorize(cmd.Context(), id)
			if err != nil {
				return err
			}

			if result.Assigned {
				fmt.Printf("Assigned conversation %d to group %d\n", id, *result.GroupID)
			} else {
				fmt.Printf("Conversation %d left unassigned\n", id)
			}
			if result.Reasoning != "" {
				fmt.Printf("Reasoning:  %s\n", result.Reasoning)
			}
			if result.Confidence > 0 {
				fmt.Printf("Confidence: %.2f\n", result.Confidence)
			}
			return nil
		},
	}
}

// categorizeSource adapts the stores to the categorizer's view.
type categorizeSource struct {
	e *env
}

func (s *categorizeSource) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	return s.e.conversations.GetByID(ctx, id)
}

func (s *categorizeSource) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	return s.e.conversations.Messages(ctx, conversationID)
}

func (s *categorizeSource) AssignGroup(ctx context.Context, conversationID, groupID int64) error {
	return s.e.conversations.AssignGroup(ctx, conversationID, groupID)
}

func (s *categorizeSource) Candidates(ctx context.Context) ([]models.IssueGroup, error) {
	return s.e.groups.Candidates(ctx)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
