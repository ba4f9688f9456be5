package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"seylanebot/internal/config"
	"seylanebot/internal/paramstore"
	"seylanebot/internal/pipeline"
	"seylanebot/internal/redis"
	"seylanebot/internal/service/reply"
	"seylanebot/internal/service/store"
	"seylanebot/internal/settings"
	"seylanebot/internal/storage"
)

var (
	configPath string
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("load .env", "error", err)
	}

	root := &cobra.Command{
		Use:          "seylanebot",
		Short:        "Instagram DM support bot for the Seylane store",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("SEYLANE_CONFIG"), "path to config.json or config.yaml")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(checkCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds what every command needs: config, database, settings and the
// current client bundle.
type app struct {
	cfg      *config.Config
	db       *sqlx.DB
	store    *store.Service
	cache    *redis.Client
	settings *settings.Manager
	hub      *pipeline.Hub
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.BasicConfig.LogLevel)}))
	slog.SetDefault(logger)
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*sqlx.DB, error) {
	dbType := cfg.BasicConfig.Database
	logger.Info("opening database", "type", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, store: store.NewService(db)}

	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		a.cache = rdb
	}

	opts := []settings.Option{settings.WithLogger(logger.With("component", "settings"))}
	if a.cache != nil {
		opts = append(opts, settings.WithCache(a.cache))
	}
	cipher, err := settings.NewCipherFromEnv()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("settings cipher: %w", err)
	}
	if cipher != nil {
		opts = append(opts, settings.WithCipher(cipher))
	}
	if prefix := strings.TrimSpace(cfg.ParamStore.Prefix); prefix != "" {
		params, err := paramstore.NewFromAWS(ctx, cfg.ParamStore.Region)
		if err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, settings.WithParamStore(params, prefix))
	}

	mgr, err := settings.NewManager(cfg, a.store, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := mgr.RefreshParams(ctx); err != nil {
		logger.Warn("parameter store unavailable, continuing without it", "error", err)
	}
	a.settings = mgr

	snap, err := mgr.Snapshot(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("resolve settings: %w", err)
	}
	knowledge, err := reply.LoadKnowledge(ctx, cfg.BasicConfig.KnowledgeFile, reply.DefaultKnowledgeLimit)
	if err != nil {
		logger.Warn("knowledge file not loaded", "path", cfg.BasicConfig.KnowledgeFile, "error", err)
	}
	builder := &pipeline.Builder{Knowledge: knowledge, DigestMode: cfg.BasicConfig.DigestMode, Logger: logger}
	services, err := builder.Build(ctx, snap)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("build services: %w", err)
	}
	a.hub = pipeline.NewHub(services, logger.With("component", "services"))
	return a, nil
}

func (a *app) close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			logger.Info("database ready", "type", cfg.BasicConfig.Database)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient-id> <text>",
		Short: "Send one Instagram message with the configured page token",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			text := strings.Join(args[1:], " ")
			if !a.hub.Current().Gateway.Deliver(ctx, args[0], text) {
				return fmt.Errorf("message to %s was not delivered", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Message sent")
			return nil
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test the OpenAI, WooCommerce and Instagram credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.close()
			failed := 0
			for _, name := range []string{"openai", "woocommerce", "instagram"} {
				res := a.hub.Current().Checks[name].TestConnection(ctx)
				mark := "ok"
				if !res.Success {
					mark = "FAIL"
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-4s %s\n", name, mark, res.Message)
			}
			if failed > 0 {
				return fmt.Errorf("%d connection check(s) failed", failed)
			}
			return nil
		},
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
