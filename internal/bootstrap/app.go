package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medsage/internal/ai"
	"medsage/internal/config"
	"medsage/internal/extract"
	"medsage/internal/ingest"
	"medsage/internal/model"
	mysqlClient "medsage/internal/platform/mysql"
	rabbitmqClient "medsage/internal/platform/rabbitmq"
	redisClient "medsage/internal/platform/redis"
	"medsage/internal/repository"
	"medsage/internal/store"
	"medsage/internal/vision"
)

// App holds shared infrastructure and the background ingest worker. The
// HTTP router builds repositories and services on top of it.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	MySQL     *gorm.DB
	Redis     *redis.Client
	MQConn    *amqp.Connection
	AIClient  *ai.Client
	Facts     *store.Facts
	Status    *ingest.StatusStore
	Publisher *ingest.TaskPublisher

	StartedAt    time.Time
	workerCancel context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger, err := newLogger(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("build logger failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(
		&model.User{},
		&model.ConsultSession{},
		&model.ConversationTurn{},
		&model.TimelineEvent{},
		&model.Document{},
		&model.DocumentChunk{},
		&model.MedicalEntity{},
		&model.EntityRelation{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	facts := store.NewFacts(
		repository.NewDocumentRepository(mysqlDB),
		repository.NewChunkRepository(mysqlDB),
		repository.NewGraphRepository(mysqlDB),
		repository.NewTimelineRepository(mysqlDB),
		store.NewEphemeral(redisCli),
	)

	aiClient := ai.NewClient()
	status := ingest.NewStatusStore(facts, time.Duration(cfg.Ingest.StatusTTLHours)*time.Hour)
	publisher := ingest.NewTaskPublisher(mqConn, cfg.RabbitMQ.IngestTaskQueue)

	classifier := vision.NewScanLabeler(
		cfg.Vision.ModelPath,
		cfg.Vision.LabelsPath,
		cfg.Vision.ONNXSharedLibPath,
		cfg.Vision.TopK,
		0,
	)

	pipeline := ingest.NewPipeline(
		facts,
		extract.NewExtractor(),
		classifier,
		aiClient,
		status,
		ingest.Config{
			MaxFileBytes:   cfg.Ingest.MaxFileBytes,
			AllowedTypes:   cfg.Ingest.AllowedTypeList(),
			MaxRetries:     cfg.Ingest.MaxRetries,
			BackoffBase:    time.Duration(cfg.Ingest.BackoffBaseMS) * time.Millisecond,
			StageTimeout:   time.Duration(cfg.Ingest.StageTimeoutSecs) * time.Second,
			ChunkSize:      cfg.Ingest.ChunkSize,
			ChunkOverlap:   cfg.Ingest.ChunkOverlap,
			EmbeddingBatch: cfg.Ingest.EmbeddingBatch,
			ChatCfg: ai.ChatConfig{
				BaseURL: cfg.LLM.BaseURL,
				APIKey:  cfg.LLM.APIKey,
				Model:   cfg.LLM.Model,
			},
			EmbCfg: ai.EmbeddingConfig{
				BaseURL: cfg.LLM.BaseURL,
				APIKey:  cfg.LLM.APIKey,
				Model:   cfg.LLM.EmbeddingModel,
			},
		},
		logger,
	)

	worker := ingest.NewWorker(mqConn, cfg.RabbitMQ.IngestTaskQueue, pipeline, publisher, cfg.Ingest.Workers, logger)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	go func() {
		if err := worker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("ingest worker stopped", zap.Error(err))
		}
	}()

	return &App{
		Config:       cfg,
		Logger:       logger,
		MySQL:        mysqlDB,
		Redis:        redisCli,
		MQConn:       mqConn,
		AIClient:     aiClient,
		Facts:        facts,
		Status:       status,
		Publisher:    publisher,
		StartedAt:    time.Now(),
		workerCancel: workerCancel,
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.workerCancel != nil {
		a.workerCancel()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
