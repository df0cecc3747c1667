package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizroom/config"
	"quizroom/handlers"
	"quizroom/middleware"
	"quizroom/routes"
	"quizroom/services"
	"quizroom/store"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()
	cobra.CheckErr(newCmd().Execute())
}

func newCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:     "quizroom",
		Short:   "Realtime multiplayer trivia rooms over websockets.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "optional config file (yaml, json or toml)")
	config.RegisterFlags(cmd.Flags())

	var userID uint
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Print an owner token for the REST API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", configFile, err)
				}
			}
			secret := v.GetString("jwt-secret")
			if secret == "" {
				return errors.New("jwt-secret is required")
			}
			signed, err := middleware.GenerateToken(secret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().String("jwt-secret", "", "HS256 secret for owner tokens")
	token.Flags().UintVar(&userID, "user", 1, "owner id to put in the token")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.AddCommand(token)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceUsage = true
	return cmd
}

func loadConfig(cmd *cobra.Command, configFile string) (*config.Config, error) {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return nil, err
	}
	return config.Load(v, configFile)
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	var (
		roomStore store.Store
		questions store.QuestionSource
	)
	switch cfg.Store {
	case config.StorePostgres:
		db, err := config.InitDB(cfg)
		if err != nil {
			return err
		}
		if err := store.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		source := store.NewGormQuestionSource(db)
		if cfg.QuestionsFile != "" {
			bank, err := store.LoadQuestionsFile(cfg.QuestionsFile, cfg.QuestionOwner)
			if err != nil {
				return err
			}
			seeded, err := source.SeedOnce(ctx, cfg.QuestionOwner, bank)
			if err != nil {
				return err
			}
			logger.Info("question bank", "file", cfg.QuestionsFile, "questions", len(bank), "seeded", seeded)
		}
		roomStore, questions = store.NewGormStore(db), source
	default:
		source := store.NewMemoryQuestionSource()
		if cfg.QuestionsFile != "" {
			bank, err := store.LoadQuestionsFile(cfg.QuestionsFile, cfg.QuestionOwner)
			if err != nil {
				return err
			}
			for _, q := range bank {
				source.Add(q)
			}
			logger.Info("question bank loaded", "file", cfg.QuestionsFile, "questions", len(bank))
		} else {
			logger.Warn("no question bank configured; rooms cannot show questions")
		}
		roomStore, questions = store.NewMemoryStore(), source
	}

	var cache services.SnapshotCache
	if client := config.InitRedis(cfg); client != nil {
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, snapshot cache disabled", "err", err)
		} else {
			cache = services.NewRedisSnapshotCache(client, cfg.SnapshotTTL)
		}
	}

	hub := services.NewHub(logger.With("component", "hub"))
	rooms := services.NewRoomService(roomStore, questions, hub, cache, services.GameOptions{
		AutoReveal:  cfg.AutoReveal,
		RevealGrace: cfg.RevealGrace,
	}, logger.With("component", "rooms"))
	hub.SetHandler(services.NewDispatcher(rooms, hub, logger.With("component", "dispatch")))
	go hub.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CORS())
	routes.SetupRoutes(router, handlers.NewRoomHandler(rooms, cfg.JoinBaseURL, logger), hub, cfg.JWTSecret, logger)

	srv := &http.Server{Addr: cfg.Addr(), Handler: router}
	errs := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Addr(), "store", cfg.Store, "cache", cache != nil)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdown)
}
