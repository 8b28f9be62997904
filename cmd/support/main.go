// Command support is the UKConnect customer support core. It wires the
// intent router, the retrieval engine and the transactional ledger behind a
// single conversational entrypoint, exposed as an interactive chat, a
// one-shot ask command, and the ingest/seed data tooling.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ntg2208/production-ai-customer-support/internal/clock"
	"github.com/ntg2208/production-ai-customer-support/internal/config"
	"github.com/ntg2208/production-ai-customer-support/internal/corpus"
	"github.com/ntg2208/production-ai-customer-support/internal/embedding"
	"github.com/ntg2208/production-ai-customer-support/internal/knowledge"
	"github.com/ntg2208/production-ai-customer-support/internal/ledger"
	"github.com/ntg2208/production-ai-customer-support/internal/orchestrator"
	"github.com/ntg2208/production-ai-customer-support/internal/router"
	"github.com/ntg2208/production-ai-customer-support/internal/session"
	"github.com/ntg2208/production-ai-customer-support/internal/synthesis"
)

var (
	configPath string
	customerID string
	sessionID  string
	verbose    bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "support",
	Short: "UKConnect rail customer support core",
	Long: `The UKConnect support core answers rail customers in natural language.

Each message is classified by intent, dispatched to the policy knowledge
base and/or the booking ledger (in parallel where the branches are
independent), and the branch results are composed into one grounded reply.

Run without arguments to start an interactive chat session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err = buildLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Ask a single question and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := buildCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.close()

		reply, meta, err := core.orch.Handle(cmd.Context(), sessionID, customerID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		if verbose {
			fmt.Fprintf(os.Stderr, "routing=%s confidence=%.2f branches=%d\n",
				meta.RoutingDecision, meta.Confidence, len(meta.Branches))
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the reference customers, timetable and fares into the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLedgerStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := corpus.SeedLedger(cmd.Context(), store); err != nil {
			return err
		}
		fmt.Printf("seeded %d customers, %d services, %d fares into %s\n",
			len(corpus.Customers()), len(corpus.Schedules()), len(corpus.Fares()),
			cfg.Ledger.DatabasePath)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Embed policy documents into the knowledge base",
	Long: `Chunks and embeds documents into the retrieval store. With no
arguments the built-in UKConnect policy corpus is ingested; otherwise each
file is ingested under its base name.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, store, err := buildKnowledge(cmd.Context(), embedding.TaskRetrievalDocument)
		if err != nil {
			return err
		}
		defer store.Close()

		docs := map[string]string{}
		if len(args) == 0 {
			docs[corpus.PolicyDoc] = corpus.Policy()
		} else {
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				docs[strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))] = string(data)
			}
		}

		for name, text := range docs {
			n, err := engine.Ingest(cmd.Context(), name, text)
			if err != nil {
				return fmt.Errorf("ingest %s: %w", name, err)
			}
			fmt.Printf("ingested %s: %d chunks\n", name, n)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := knowledge.OpenStore(knowledgePath())
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		if stats["chunks"] == 0 {
			fmt.Println("knowledge base is empty; run `support ingest` first")
			return nil
		}
		fmt.Printf("documents: %d\nchunks:    %d\n", stats["documents"], stats["chunks"])
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.Default().Save(configPath); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "support.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&customerID, "customer", "CUS001", "customer the conversation belongs to")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "local", "session identifier")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging and routing detail")

	rootCmd.AddCommand(askCmd, chatCmd, seedCmd, ingestCmd, statsCmd, initCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger(lc config.LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func runChat(ctx context.Context) error {
	core, err := buildCore(ctx)
	if err != nil {
		return err
	}
	defer core.close()

	janitor := cron.New()
	_, err = janitor.AddFunc(cfg.Session.JanitorSpec, func() {
		if n := core.sessions.EvictIdle(); n > 0 {
			logger.Info("evicted idle sessions", zap.Int("count", n))
		}
		if n, err := core.ledgerEngine.MarkDeparted(ctx); err != nil {
			logger.Warn("departed sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("marked departed bookings complete", zap.Int("count", n))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor_spec: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	fmt.Printf("UKConnect support (customer %s). Type your message, or 'exit' to quit.\n", customerID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, meta, err := core.orch.Handle(ctx, sessionID, customerID, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("something went wrong: %v\n", err)
			continue
		}
		fmt.Println(reply)
		if verbose {
			fmt.Printf("  [%s, confidence %.2f, %d branches]\n",
				meta.RoutingDecision, meta.Confidence, len(meta.Branches))
		}
	}
	return scanner.Err()
}

// core bundles the wired subsystems with everything that must be closed.
type core struct {
	orch         *orchestrator.Orchestrator
	sessions     *session.Manager
	ledgerEngine *ledger.Engine
	closers      []func() error
}

func (c *core) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
}

func buildCore(ctx context.Context) (*core, error) {
	ledgerStore, err := openLedgerStore()
	if err != nil {
		return nil, err
	}
	c := &core{closers: []func() error{ledgerStore.Close}}

	retriever, knowledgeStore, err := buildKnowledge(ctx, embedding.TaskRetrievalQuery)
	if err != nil {
		c.close()
		return nil, err
	}
	c.closers = append(c.closers, knowledgeStore.Close)

	turnLog, err := session.OpenTurnLog(filepath.Join(dataDir(), "sessions.db"))
	if err != nil {
		c.close()
		return nil, err
	}
	c.closers = append(c.closers, turnLog.Close)

	completer, err := synthesis.NewCompleter(ctx, cfg.LLM)
	if err != nil {
		logger.Warn("completion disabled, replies will use template phrasing", zap.Error(err))
		completer = nil
	}

	clk := clock.System{}
	c.ledgerEngine = ledger.NewEngine(ledgerStore, cfg.Ledger, cfg.GetLockWait(), clk, logger)
	c.sessions = session.NewManager(ledgerStore, turnLog, cfg.Session.HistoryWindow, cfg.GetSessionTTL(), clk, logger)
	c.orch = orchestrator.New(
		c.sessions,
		router.New(clk),
		c.ledgerEngine,
		retriever,
		synthesis.New(completer, logger),
		cfg.GetBranchTimeout(),
		clk,
		logger,
	)
	return c, nil
}

func buildKnowledge(ctx context.Context, taskType string) (*knowledge.Engine, *knowledge.Store, error) {
	if cfg.Embedding.APIKey == "" {
		return nil, nil, fmt.Errorf("embedding api key not set (GEMINI_API_KEY)")
	}
	embedder, err := embedding.NewGenAIEngine(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model, taskType)
	if err != nil {
		return nil, nil, err
	}
	store, err := knowledge.OpenStore(knowledgePath())
	if err != nil {
		return nil, nil, err
	}
	engine := knowledge.NewEngine(store, embedder, knowledge.EngineOptions{
		ChunkSize:    cfg.Retrieval.ChunkSize,
		ChunkOverlap: cfg.Retrieval.ChunkOverlap,
		TopK:         cfg.Retrieval.TopK,
		MinScore:     cfg.Retrieval.MinScore,
	}, logger)
	return engine, store, nil
}

func openLedgerStore() (*ledger.Store, error) {
	if err := os.MkdirAll(dataDir(), 0755); err != nil {
		return nil, err
	}
	return ledger.OpenStore(cfg.Ledger.DatabasePath)
}

func dataDir() string {
	return filepath.Dir(cfg.Ledger.DatabasePath)
}

func knowledgePath() string {
	return filepath.Join(dataDir(), "knowledge.db")
}
