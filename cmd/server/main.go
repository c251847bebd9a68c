package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nkmrt3/frnchat/internal/api"
	"github.com/nkmrt3/frnchat/internal/chat"
	"github.com/nkmrt3/frnchat/internal/completion"
	"github.com/nkmrt3/frnchat/internal/db"
	"github.com/nkmrt3/frnchat/internal/utils"
	"github.com/nkmrt3/frnchat/internal/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: failed to load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("logger: failed to build: %v", err)
	}
	defer utils.SyncLogger(logger)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store: failed to open", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeStore()

	completer, err := completion.NewClient(completion.Config{
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      cfg.Completion.APIKey,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		MaxTokens:   cfg.Completion.MaxTokens,
		Timeout:     cfg.Completion.Timeout,
	}, nil)
	if err != nil {
		logger.Fatal("completion: failed to build client", zap.Error(err))
	}

	orchestrator := chat.NewOrchestrator(store, completer, logger.Named("chat"))

	router, err := setupRouter(cfg, store, orchestrator, logger)
	if err != nil {
		logger.Fatal("router: failed to build", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Bool("cache", cfg.Redis.Enabled()),
			zap.String("completion_url", cfg.Completion.BaseURL))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server crashed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}

// openStore connects the configured backend and, when Redis is configured,
// puts the conversation cache in front of it.
func openStore(ctx context.Context, cfg *utils.Config, logger *zap.Logger) (db.ConversationStore, func(), error) {
	var (
		store   db.ConversationStore
		closers []func()
	)

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Store.Driver {
	case utils.StoreDriverMongo:
		mongoStore, err := db.NewMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				logger.Warn("mongo: close error", zap.Error(err))
			}
		})
		if err := mongoStore.EnsureCollections(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		store = mongoStore
	case utils.StoreDriverPostgres:
		pgStore, err := db.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pgStore.Close)
		if err := pgStore.Ping(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("postgres: ping: %w", err)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		store = pgStore
	case utils.StoreDriverMemory:
		logger.Warn("using in-memory store; conversations are lost on restart")
		store = db.NewMemory(nil)
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Redis.Enabled() {
		client, err := db.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis: cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			closers = append(closers, func() { _ = client.Close() })
			store = db.NewCachedStore(store, client, cfg.Redis.TTL, logger.Named("cache"))
		}
	}

	return store, closeAll, nil
}

func setupRouter(cfg *utils.Config, store db.ConversationStore, orchestrator *chat.Orchestrator, logger *zap.Logger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), api.CORS(cfg.CORS))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api.NewHandler(store, orchestrator, logger.Named("api")).RegisterRoutes(router)

	if err := web.RegisterRoutes(router); err != nil {
		return nil, err
	}

	return router, nil
}
