package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zhouzirui/z-tavern/support/internal/auth"
	"github.com/zhouzirui/z-tavern/support/internal/config"
	"github.com/zhouzirui/z-tavern/support/internal/handler"
	"github.com/zhouzirui/z-tavern/support/internal/model/prompt"
	"github.com/zhouzirui/z-tavern/support/internal/service/ai"
	"github.com/zhouzirui/z-tavern/support/internal/service/broadcast"
	"github.com/zhouzirui/z-tavern/support/internal/service/chat"
	"github.com/zhouzirui/z-tavern/support/internal/service/sweep"
	"github.com/zhouzirui/z-tavern/support/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := store.NewSQLiteStore(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if err := seedTemplates(ctx, db, cfg.Templates, logger); err != nil {
		return err
	}

	// Initialize AI service
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, answering with fallback only", zap.Error(err))
			chatModel = nil
		}
	} else {
		logger.Info("ark credentials not configured, answering with fallback only")
	}
	responder, err := ai.NewService(ctx, chatModel, db, ai.Options{Timeout: cfg.AI.Timeout}, logger)
	if err != nil {
		return fmt.Errorf("init responder: %w", err)
	}

	hub := broadcast.NewHub(logger)
	defer hub.Close()

	primary, closeTransport, err := connectBroadcast(ctx, cfg.Broadcast, hub, logger)
	if err != nil {
		return err
	}
	defer closeTransport()

	broadcaster := broadcast.NewBroadcaster(primary, hub, logger)
	streamer := broadcast.NewStreamer(broadcaster, broadcast.StreamerOptions{
		ChunkSize:  cfg.Broadcast.ChunkSize,
		ChunkDelay: cfg.Broadcast.ChunkDelay,
	}, logger)
	defer streamer.Close()

	chatSvc := chat.NewService(db, responder, streamer, chat.Options{
		DefaultLanguage:   cfg.Chat.DefaultLanguage,
		DefaultAgentLabel: cfg.Chat.DefaultAgentLabel,
		RetainRawPII:      cfg.Chat.RetainRawPII,
	}, logger)

	scheduler, err := sweep.NewScheduler(db, chatSvc, sweep.Options{
		Interval:       cfg.Sweep.Interval,
		WarnThreshold:  cfg.Sweep.WarnThreshold,
		CloseThreshold: cfg.Sweep.CloseThreshold,
	}, logger)
	if err != nil {
		return fmt.Errorf("init sweep: %w", err)
	}
	go scheduler.Run(ctx)

	router := handler.NewRouter(handler.Dependencies{
		Chat:      chatSvc,
		Frames:    hub,
		Templates: db,
		Identity:  auth.NewResolver(cfg.Auth.JWTSecret),
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("support backend listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("broadcast", cfg.Broadcast.Backend),
		zap.Bool("ai_backend", responder.Enabled()))
	if err := runServer(ctx, srv); err != nil {
		return err
	}

	logger.Info("shutting down", zap.Uint64("dropped_frames", broadcaster.Dropped()))
	return nil
}

// seedTemplates loads the catalog from a YAML file when configured, otherwise
// the built-in templates, and upserts it by id.
func seedTemplates(ctx context.Context, db *store.SQLiteStore, cfg config.TemplatesConfig, logger *zap.Logger) error {
	templates := prompt.Seed()
	if cfg.File != "" {
		loaded, err := prompt.LoadFile(cfg.File)
		if err != nil {
			return fmt.Errorf("load prompt templates: %w", err)
		}
		templates = loaded
	}
	if err := db.UpsertTemplates(ctx, templates); err != nil {
		return fmt.Errorf("seed prompt templates: %w", err)
	}
	logger.Info("prompt templates seeded", zap.Int("count", len(templates)), zap.String("file", cfg.File))
	return nil
}

// connectBroadcast returns the primary frame publisher. Redis and NATS also
// start a relay feeding the local hub so this instance's sockets see frames
// published by any instance.
func connectBroadcast(ctx context.Context, cfg config.BroadcastConfig, hub *broadcast.Hub, logger *zap.Logger) (broadcast.Publisher, func(), error) {
	switch cfg.Backend {
	case config.BroadcastRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		go func() {
			if err := broadcast.RelayRedis(ctx, client, hub, logger); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
		return broadcast.NewRedisPublisher(client), func() { client.Close() }, nil

	case config.BroadcastNATS:
		conn, err := nats.Connect(cfg.NATSURL,
			nats.Name("support-backend"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(10),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
		}
		go func() {
			if err := broadcast.RelayNATS(ctx, conn, hub, logger); err != nil {
				logger.Error("nats relay stopped", zap.Error(err))
			}
		}()
		return broadcast.NewNATSPublisher(conn), conn.Close, nil

	default:
		return hub, func() {}, nil
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
