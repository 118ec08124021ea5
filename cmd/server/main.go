// Package main is the entry point of the HOA Nexus indexing and retrieval service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/internal/handler"
	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/pipeline"
	"hoa-nexus-rag/internal/repository"
	"hoa-nexus-rag/internal/service"
	"hoa-nexus-rag/internal/vectorstore"
	"hoa-nexus-rag/pkg/database"
	"hoa-nexus-rag/pkg/embedding"
	"hoa-nexus-rag/pkg/es"
	"hoa-nexus-rag/pkg/kafka"
	"hoa-nexus-rag/pkg/llm"
	"hoa-nexus-rag/pkg/log"
	"hoa-nexus-rag/pkg/storage"
	"hoa-nexus-rag/pkg/tika"
	"hoa-nexus-rag/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	indexOnStart := flag.Bool("index-on-start", false, "queue a full indexing run once the server is up")
	flag.Parse()

	// 1. config and logging
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("Logger initialized")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 2. metadata database, redis, blob storage
	db, err := database.OpenMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("mysql unavailable", err)
	}
	if cfg.Database.MySQL.AutoMigrate {
		if err := db.AutoMigrate(&model.Folder{}, &model.FileRecord{}); err != nil {
			log.Fatal("auto-migrate file tables", err)
		}
	}
	rdb, err := database.OpenRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatal("redis unavailable", err)
	}
	defer rdb.Close()
	blobs, err := storage.NewMinIOStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("minio unavailable", err)
	}

	// 3. vector store
	store, err := openVectorStore(rootCtx, cfg)
	if err != nil {
		log.Fatal("vector store unavailable", err)
	}

	// 4. repositories and clients
	fileRepo := repository.NewFileRepository(db)
	leaseRepo := repository.NewLeaseRepository(rdb)
	runRepo := repository.NewRunRepository(rdb, cfg.Indexing.RunTTL())
	attemptRepo := repository.NewAttemptRepository(rdb)

	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	// 5. indexing pipeline
	hasher, err := pipeline.NewHasher(cfg.Indexing.HashAlgorithm)
	if err != nil {
		log.Fatal("invalid indexing.hash_algorithm", err)
	}
	chunker := pipeline.NewChunker(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	orchestrator := pipeline.NewOrchestrator(cfg.Indexing, fileRepo, blobs, tikaClient, chunker, hasher, embeddingClient, store, leaseRepo)

	// 6. services; without brokers async runs execute in-process
	var publisher service.TaskPublisher
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		publisher = producer
	}
	indexingService := service.NewIndexingService(rootCtx, orchestrator, fileRepo, store, runRepo, publisher)
	recoveryService := service.NewRecoveryService(fileRepo, indexingService)
	retrievalService := service.NewRetrievalService(cfg.Retrieval, embeddingClient, store)
	chatService := service.NewChatService(retrievalService, llmClient, cfg.Chat, cfg.LLM)

	// 7. background kafka consumer
	var bg sync.WaitGroup
	if producer != nil {
		consumer := kafka.NewConsumer(cfg.Kafka, attemptRepo)
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := consumer.Run(rootCtx, indexingService); err != nil {
				log.Errorf("[Kafka] consumer stopped: %v", err)
			}
		}()
	}

	if *indexOnStart {
		run, err := indexingService.EnqueueDocuments(rootCtx, model.Scope{})
		if err != nil {
			log.Warnf("[Startup] could not queue initial indexing run: %v", err)
		} else {
			log.Infof("[Startup] queued initial indexing run %s", run.RunID)
		}
	}

	// 8. routes
	r := handler.NewRouter(cfg.Server.Mode, jwtManager, handler.Handlers{
		Indexing: handler.NewIndexingHandler(indexingService, recoveryService),
		Chat:     handler.NewChatHandler(chatService, retrievalService, jwtManager),
		Health:   handler.NewHealthHandler(healthChecks(db, rdb)),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received, stopping server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP server shutdown failed: %v", err)
	}

	// in-flight files finish on their own contexts; the consumer and new dispatches stop here
	stop()
	bg.Wait()
	log.Info("Server stopped")
}

func openVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "memory":
		log.Warnf("[Startup] using the in-memory vector store; chunks are lost on restart")
		return vectorstore.NewMemoryStore(), nil
	case "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		s := vectorstore.NewElasticsearchStore(client, cfg.Elasticsearch.IndexName, cfg.VectorStore.Dimensions, cfg.VectorStore.Oversample)
		if err := s.EnsureIndices(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "pgvector":
		pg, err := database.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		s := vectorstore.NewPgvectorStore(pg, cfg.VectorStore.Dimensions)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown vector_store.backend %q", cfg.VectorStore.Backend)
	}
}

func healthChecks(db *gorm.DB, rdb *redis.Client) map[string]handler.Checker {
	return map[string]handler.Checker{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	}
}
