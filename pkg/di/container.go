package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"karmika-sahayak/backend/ai"
	chatapi "karmika-sahayak/backend/chat/api"
	"karmika-sahayak/backend/chat/repository"
	"karmika-sahayak/backend/chat/service"
	"karmika-sahayak/backend/kbocw"
	"karmika-sahayak/backend/pkg/cache"
	"karmika-sahayak/backend/pkg/config"
	"karmika-sahayak/backend/pkg/health"
	"karmika-sahayak/backend/pkg/locks"
	"karmika-sahayak/backend/pkg/logger"
	"karmika-sahayak/backend/pkg/middleware"
	"karmika-sahayak/backend/pkg/resilience"
	"karmika-sahayak/backend/shared/redis"
	"karmika-sahayak/backend/vectorstore"
)

// Container holds all the dependencies for the application
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	DB     *gorm.DB

	Store    *repository.GormStore
	Locks    *locks.Registry
	Redis    *redis.RedisClient
	MemCache *cache.MemoryCache
	LLM      ai.Client
	Vectors  *vectorstore.Store
	Board    *kbocw.Client

	ChatService *service.Service
	Sweeper     *service.RetentionSweeper
	ChatHandler *chatapi.Handler
	RateLimiter *middleware.RateLimiter
	Health      *health.Checker
}

// New wires the full service graph from configuration. Optional backends
// degrade instead of failing startup: without Redis the look-aside cache is
// in-process, without Weaviate answers compose with no retrieval context,
// and without a board API URL status questions answer as general ones.
func New(cfg *config.Config, log *logger.Logger, db *gorm.DB) (*Container, error) {
	store := repository.NewGormStore(db)
	registry := locks.NewRegistry(cfg.Chat.MaxThreadLocks)

	llm, err := ai.NewClient(ai.Options{
		Backend:       cfg.LLM.Backend,
		OllamaURL:     cfg.LLM.OllamaURL,
		OpenAIKey:     cfg.LLM.OpenAIKey,
		Model:         cfg.LLM.Model,
		EmbedModel:    cfg.LLM.EmbedModel,
		Temperature:   cfg.LLM.Temperature,
		TopP:          cfg.LLM.TopP,
		TopK:          cfg.LLM.TopK,
		RepeatPenalty: cfg.LLM.RepeatPenalty,
		Timeout:       cfg.LLM.Timeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	c := &Container{
		Config: cfg,
		Logger: log,
		DB:     db,
		Store:  store,
		Locks:  registry,
		LLM:    llm,
	}

	var lookaside service.LookasideCache
	if cfg.Redis.Enabled {
		c.Redis = redis.NewRedisClient(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		lookaside = c.Redis
	} else {
		c.MemCache = cache.New(cfg.Cache.MaxEntries, cfg.Cache.PurgeInterval)
		lookaside = c.MemCache
	}

	vectors, err := vectorstore.New(vectorstore.Options{
		Host:      cfg.VectorStore.Host,
		Scheme:    cfg.VectorStore.Scheme,
		ClassName: cfg.VectorStore.ClassName,
	}, log)
	if err != nil {
		log.Warn("Vector store unavailable, composing answers without retrieval",
			"host", cfg.VectorStore.Host, "error", err.Error())
	} else {
		c.Vectors = vectors
	}

	if cfg.BoardAPI.BaseURL != "" {
		board, err := kbocw.NewClient(kbocw.Options{
			BaseURL:       cfg.BoardAPI.BaseURL,
			Timeout:       cfg.BoardAPI.Timeout,
			RatePerSecond: cfg.BoardAPI.RatePerSecond,
			Burst:         cfg.BoardAPI.Burst,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create board client: %w", err)
		}
		c.Board = board
	} else {
		log.Warn("BOARD_API_URL not set, personal status answers are disabled")
	}

	classifier := service.NewIntentClassifier(llm, log)

	var fetcher service.RecordFetcher
	if c.Board != nil {
		fetcher = c.Board
	}
	records := service.NewUserDataCoordinator(store, lookaside, fetcher, cfg.Redis.RecordTTL, log)

	var search service.SnippetSearcher
	if c.Vectors != nil {
		search = c.Vectors
	}
	composer := service.NewComposer(llm, search, service.ComposerOptions{
		HistoryWindow:      cfg.Chat.HistoryWindow,
		HistoryWindowAuth:  cfg.Chat.HistoryWindowAuth,
		MaxAnswerChars:     cfg.Chat.MaxAnswerChars,
		TopK:               cfg.VectorStore.TopK,
		CertaintyThreshold: cfg.VectorStore.ScoreThreshold,
	}, log)

	c.ChatService = service.NewService(store, registry, classifier, records, composer, service.Options{
		ReplyTimeout:  cfg.LLM.Timeout,
		StreamTimeout: cfg.LLM.StreamTimeout,
	}, log)

	c.Sweeper = service.NewRetentionSweeper(store,
		cfg.Retention.SweepInterval,
		cfg.Retention.MessageAge,
		cfg.Retention.RecordCacheAge,
		log)

	c.ChatHandler = chatapi.NewHandler(c.ChatService, chatapi.HandlerOptions{
		MaxMessageChars:  cfg.Chat.MaxMessageChars,
		ListDefaultLimit: cfg.Chat.ListDefaultLimit,
		ListMaxLimit:     cfg.Chat.ListMaxLimit,
	}, log)

	c.RateLimiter = middleware.NewRateLimiter(log, middleware.RateLimiterOptions{
		Window:         cfg.RateLimit.Window,
		MaxRequests:    cfg.RateLimit.MaxRequests,
		ReadMultiplier: cfg.RateLimit.ReadMultiplier,
		MaxClients:     cfg.RateLimit.MaxClients,
		SweepEvery:     cfg.RateLimit.SweepEvery,
	})

	c.Health = newHealthChecker(c)

	return c, nil
}

// newHealthChecker registers one check per wired backend. Only the database
// is critical; everything else reports degraded so the pipeline keeps
// serving what it can.
func newHealthChecker(c *Container) *health.Checker {
	checker := health.NewChecker(c.Logger, 30*time.Second)

	db := c.DB
	checker.RegisterDatabaseCheck(func() error {
		return config.TestConnection(db)
	})

	if c.Redis != nil {
		rdb := c.Redis
		checker.RegisterCheck("redis", func() (health.Status, string, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx); err != nil {
				return health.StatusDegraded, "Redis unreachable, look-aside cache disabled", err
			}
			return health.StatusUp, "Redis connection is established", nil
		})
	}

	if c.Vectors != nil {
		vs := c.Vectors
		checker.RegisterCheck("vectorstore", func() (health.Status, string, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := vs.Ready(ctx); err != nil {
				return health.StatusDegraded, "Weaviate unreachable, answering without retrieval", err
			}
			return health.StatusUp, "Weaviate is ready", nil
		})
	}

	if c.Config.LLM.Backend == "ollama" {
		checker.RegisterAPICheck("ollama", c.Config.LLM.OllamaURL+"/api/tags",
			&http.Client{Timeout: 5 * time.Second})
	}

	if c.Board != nil {
		board := c.Board
		checker.RegisterCheck("board-api", func() (health.Status, string, error) {
			if board.BreakerState() == resilience.StateOpen {
				return health.StatusDegraded, "Board API circuit is open", nil
			}
			return health.StatusUp, "Board API circuit is closed", nil
		})
	}

	return checker
}

// Close releases the container's long-lived resources.
func (c *Container) Close() {
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("Redis close failed", "error", err.Error())
		}
	}
	if c.MemCache != nil {
		c.MemCache.Stop()
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			c.Logger.Warn("Database close failed", "error", err.Error())
		}
	}
}
