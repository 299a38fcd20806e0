package main

import (
	"context"
	"log"
	"os"
	"time"

	"accordgo/internal/api"
	"accordgo/internal/auth"
	"accordgo/internal/config"
	"accordgo/internal/ratelimit"
	"accordgo/internal/redis"
	"accordgo/internal/service/ai"
	"accordgo/internal/service/mediation"
	"accordgo/internal/session"
	"accordgo/internal/storage"
	"accordgo/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("ACCORDGO_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("ACCORDGO_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	feed := session.NewFeed(rdb)
	svc := mediation.NewService(db, dbType, feed)
	hub := session.NewHub(rdb, svc)
	defer hub.Close()

	provider := os.Getenv("ACCORDGO_PROVIDER")
	if provider == "" {
		provider = "openai"
	}
	gateway, err := ai.NewGateway(cfg, provider, ai.RetryPolicy{
		MaxAttempts: cfg.Mediation.AssistMaxAttempts,
		BaseDelay:   cfg.AssistRetryBaseDelay(),
	})
	if err != nil {
		log.Fatalf("init llm gateway: %v", err)
	}
	docs, err := ai.NewDocumentLoader()
	if err != nil {
		log.Fatalf("init document loader: %v", err)
	}

	store := ratelimit.NewSQLStore(db, dbType)
	limiter := ratelimit.New(store, cfg.Mediation.AssistRateLimit, cfg.AssistRateWindowDuration())
	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	ratelimit.StartCleaner(cleanCtx, store, cfg.AssistRateWindowDuration(),
		time.Duration(cfg.BasicConfig.CleanupInterval)*time.Minute)

	orch := mediation.NewOrchestrator(svc, gateway, limiter, docs, cfg.Mediation.RecentMessageLimit)

	authService := auth.NewService(db, 24*time.Hour).WithCache(rdb)

	dispatcher := worker.NewDispatcher(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Minute,
	)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	handlers := api.NewHandler(svc, authService, orch, hub, dispatcher, fileBase)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
