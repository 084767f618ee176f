package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fiqh-rag/internal/app"
	"fiqh-rag/internal/cache"
	"fiqh-rag/internal/config"
	"fiqh-rag/internal/model"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/platform/filestore"
	mysqlClient "fiqh-rag/internal/platform/mysql"
	rabbitmqClient "fiqh-rag/internal/platform/rabbitmq"
	redisClient "fiqh-rag/internal/platform/redis"
	"fiqh-rag/internal/rag/chain"
	"fiqh-rag/internal/rag/chunker"
	"fiqh-rag/internal/rag/generator"
	"fiqh-rag/internal/rag/loader"
	"fiqh-rag/internal/rag/normalize"
	"fiqh-rag/internal/rag/vectorindex"
	"fiqh-rag/internal/repository"
	"fiqh-rag/internal/worker"
)

// App owns every long-lived resource and the services built on them.
type App struct {
	Config        *config.Config
	Log           logrus.FieldLogger
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	MessageWorker *worker.MessagePersistWorker

	Auth          *app.AuthService
	Conversations *app.ConversationService
	Chat          *app.ChatService
	Documents     *app.DocumentService

	StartedAt time.Time
}

// core is what both the server and the indexer need: the database, the
// retrieval pipeline and the repositories.
type core struct {
	messages      *repository.MessageRepository
	conversations *repository.ConversationRepository
	documents     *repository.DocumentRepository
	index         *vectorindex.Index
	files         *filestore.Store
	loader        *loader.Loader
	splitter      *chunker.Splitter
}

func Load() (*config.Config, logrus.FieldLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config failed: %w", err)
	}
	return cfg, logger.New(cfg.App.Name, cfg.Log.Level, cfg.Log.Format), nil
}

// New connects MySQL, Redis and RabbitMQ and wires the HTTP services.
func New(ctx context.Context) (*App, error) {
	cfg, log, err := Load()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"llm_provider":   cfg.LLM.Provider,
		"vector_backend": cfg.RAG.VectorBackend,
		"async_persist":  cfg.RabbitMQ.AsyncPersist,
	}).Info("application initialized")
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	c, err := a.openCore(ctx)
	if err != nil {
		return err
	}

	a.Redis, err = redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MessagePersistQueue, cfg.RabbitMQ.UploadResultQueue)
	if err != nil {
		return err
	}

	historyCache := cache.NewHistoryCache(a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	blocklist := cache.NewTokenBlocklist(a.Redis, time.Duration(cfg.Redis.JTITTLSeconds)*time.Second)

	var persister app.MessagePersister = c.messages
	if cfg.RabbitMQ.AsyncPersist {
		persister = rabbitmqClient.NewMessagePublisher(a.MQConn, cfg.RabbitMQ.MessagePersistQueue)
		a.MessageWorker = worker.NewMessagePersistWorker(a.MQConn, c.messages, c.conversations, cfg.RabbitMQ.MessagePersistQueue, log)
		if err := a.MessageWorker.Start(ctx); err != nil {
			return fmt.Errorf("start message worker failed: %w", err)
		}
	}
	notifier := rabbitmqClient.NewEventPublisher(a.MQConn, cfg.RabbitMQ.UploadResultQueue)

	a.Documents = app.NewDocumentService(c.conversations, c.documents, c.index, c.loader, c.splitter, c.files, notifier, cfg.MaxUploadBytes(), log)
	a.Conversations = app.NewConversationService(c.conversations, c.documents, c.index, c.files, historyCache, log)
	a.Auth = app.NewAuthService(repository.NewUserRepository(a.MySQL), blocklist, cfg.Auth.JWTSecret, cfg.JWTExpiration(), cfg.RefreshExpiration(), log)

	gen := generator.New(
		chain.NewBuilder(chain.FromIndex(c.index), newChatModel(cfg, log), cfg.RAG.TopK, log),
		generator.Options{
			StreamChunkSize: cfg.RAG.StreamChunkSize,
			StreamDelay:     cfg.StreamDelay(),
			NativeStreaming: cfg.RAG.NativeStreaming,
		},
		log,
	)
	a.Chat = app.NewChatService(c.conversations, c.messages, c.messages, a.Documents, persister, gen, historyCache, log)
	return nil
}

// NewIndexer opens only what document ingestion needs. Upload notifications
// are not published from the CLI.
func NewIndexer(ctx context.Context) (*App, error) {
	cfg, log, err := Load()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	c, err := a.openCore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Documents = app.NewDocumentService(c.conversations, c.documents, c.index, c.loader, c.splitter, c.files, nil, cfg.MaxUploadBytes(), log)
	return a, nil
}

func (a *App) openCore(ctx context.Context) (*core, error) {
	cfg, log := a.Config, a.Log

	db, err := mysqlClient.New(ctx, cfg.MySQL)
	if err != nil {
		return nil, err
	}
	a.MySQL = db
	if err := db.AutoMigrate(&model.User{}, &model.Conversation{}, &model.Message{}, &model.Document{}, &model.Chunk{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	var store vectorindex.Store
	switch cfg.RAG.VectorBackend {
	case "memory":
		store = vectorindex.NewMemoryStore()
		log.Warn("using in-memory vector store, chunks are lost on restart")
	default:
		store = repository.NewChunkRepository(db)
	}

	splitter, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	files, err := filestore.New(cfg.Storage.UploadDir)
	if err != nil {
		return nil, err
	}

	return &core{
		messages:      repository.NewMessageRepository(db),
		conversations: repository.NewConversationRepository(db),
		documents:     repository.NewDocumentRepository(db),
		index:         vectorindex.New(store, newEmbedder(cfg, log), log),
		files:         files,
		loader:        loader.New(normalize.New(cfg.RAG.ArabicReshape, cfg.RAG.BidiReorder), log),
		splitter:      splitter,
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
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
	return closeErr
}
