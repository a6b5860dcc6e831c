// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"
	"os"

	"articleforge-api/internal/application/article"
	"articleforge-api/internal/application/credit"
	"articleforge-api/internal/application/generation"
	"articleforge-api/internal/application/publishing"
	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/repository"
	"articleforge-api/internal/infrastructure/llm"
	"articleforge-api/internal/infrastructure/messaging"
	"articleforge-api/internal/infrastructure/persistence/memory"
	"articleforge-api/internal/infrastructure/persistence/postgres"
	"articleforge-api/internal/infrastructure/persistence/redis"
	"articleforge-api/internal/infrastructure/publishing/webflow"
	"articleforge-api/internal/infrastructure/research"
	"articleforge-api/internal/interfaces/http/handler"
	"articleforge-api/internal/interfaces/http/router"
	"articleforge-api/internal/workflow/prompt"
	"articleforge-api/pkg/logger"
)

const (
	cachePrefix = "af:cache:"
	lockPrefix  = "af:lock:"
)

// Storage 持久化依赖；Postgres 在 memory 驱动下为 nil
type Storage struct {
	Tx           repository.Transactor
	Owner        repository.OwnerScope
	Articles     repository.ArticleRepository
	Profiles     repository.ProfileRepository
	Transactions repository.CreditTransactionRepository
	Connections  repository.CMSConnectionRepository
	Postgres     *postgres.Client
}

// App API 网关依赖
type App struct {
	Router   *router.Router
	Sessions *generation.Registry
	Storage  *Storage
}

// Worker 后台任务依赖
type Worker struct {
	Consumer   *messaging.Consumer
	Scheduler  *publishing.Scheduler
	Publishing *publishing.Service
}

// ProvideStorage 按 database.driver 选择 PostgreSQL 或内存实现
func ProvideStorage(cfg *config.Config) (*Storage, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn(context.Background(), "using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		return &Storage{
			Tx:           store,
			Owner:        store,
			Articles:     store.Articles(),
			Profiles:     store.Profiles(),
			Transactions: store.CreditTransactions(),
			Connections:  store.CMSConnections(),
		}, func() {}, nil
	}

	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	tx := postgres.NewTxManager(client)
	cleanup := func() {
		_ = client.Close()
	}
	return &Storage{
		Tx:           tx,
		Owner:        postgres.NewOwnerScope(client, tx),
		Articles:     postgres.NewArticleRepository(client),
		Profiles:     postgres.NewProfileRepository(client),
		Transactions: postgres.NewCreditTransactionRepository(client),
		Connections:  postgres.NewCMSConnectionRepository(client),
		Postgres:     client,
	}, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideCache 提供 Redis 缓存
func ProvideCache(client *redis.Client) *redis.Cache {
	return redis.NewCache(client, cachePrefix)
}

// ProvideRunLock 提供跨副本会话锁
func ProvideRunLock(client *redis.Client, cfg *config.Config) generation.RunLock {
	return generation.NewRedisRunLock(redis.NewLocker(client, lockPrefix), cfg.Generation.LockTTL)
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(client *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(client.Redis(), messaging.Stream(cfg.Messaging.RedisStream.PublishStream), int64(maxLen))
}

// ProvideMessagingConsumer 提供发布队列消费者
func ProvideMessagingConsumer(client *redis.Client, cfg *config.Config) *messaging.Consumer {
	rs := cfg.Messaging.RedisStream
	hostname, _ := os.Hostname()
	return messaging.NewConsumer(client.Redis(), messaging.ConsumerConfig{
		Stream:       messaging.Stream(rs.PublishStream),
		Group:        messaging.ConsumerGroup(rs.ConsumerGroup),
		ConsumerName: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		BlockTimeout: rs.BlockTimeout,
		RetryLimit:   rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
}

// ProvideLedger 提供积分账本
func ProvideLedger(st *Storage, cfg *config.Config) *credit.Ledger {
	return credit.NewLedger(st.Tx, st.Profiles, st.Transactions, credit.Config{
		RefundOnFailure: cfg.Credits.RefundOnFailure,
		SignupBonus:     cfg.Credits.SignupBonus,
	})
}

// ProvideCompleter 提供按配置选择驱动的 LLM 客户端
func ProvideCompleter(cfg *config.Config) llm.Completer {
	return llm.NewClient(cfg, llm.NewEinoFactory(cfg))
}

// ProvideSearcher 提供 Firecrawl 检索客户端
func ProvideSearcher(cfg *config.Config) research.Searcher {
	return research.NewFirecrawlClient(&cfg.Research)
}

// ProvideRegistry 提供会话注册表
func ProvideRegistry(cfg *config.Config) *generation.Registry {
	return generation.NewRegistry(cfg.Generation.SessionTTL)
}

// ProvideOrchestrator 提供生成编排器
func ProvideOrchestrator(cfg *config.Config, completer llm.Completer, searcher research.Searcher, ledger *credit.Ledger, sessions *generation.Registry, locks generation.RunLock) *generation.Orchestrator {
	return generation.NewOrchestrator(prompt.NewBuilder(), completer, searcher, ledger, sessions, locks, generation.OptionsFromConfig(cfg))
}

// ProvideWebflowClient 提供 Webflow 发布客户端
func ProvideWebflowClient(cfg *config.Config, cache *redis.Cache) *webflow.Client {
	return webflow.NewClient(&cfg.Publishing.Webflow, cache)
}

// ProvidePublishingService 提供发布服务
func ProvidePublishingService(st *Storage, client *webflow.Client, producer *messaging.Producer) *publishing.Service {
	return publishing.NewService(st.Owner, st.Articles, st.Connections, client, producer)
}

// ProvideArticleService 提供文章服务
func ProvideArticleService(st *Storage) *article.Service {
	return article.NewService(st.Owner, st.Articles)
}

// ProvideScheduler 提供定时发布调度器
func ProvideScheduler(svc *publishing.Service, cfg *config.Config) *publishing.Scheduler {
	return publishing.NewScheduler(svc, cfg.Scheduler)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, st *Storage, client *redis.Client) *handler.HealthHandler {
	checks := map[string]handler.HealthChecker{
		"redis":    client,
		"postgres": nil,
	}
	if st.Postgres != nil {
		checks["postgres"] = st.Postgres
	}
	return handler.NewHealthHandler(cfg.App.Version, checks)
}

// ProvideGenerationHandler 提供生成处理器
func ProvideGenerationHandler(orch *generation.Orchestrator, cfg *config.Config) *handler.GenerationHandler {
	return handler.NewGenerationHandler(orch, cfg.Generation.StreamBuffer)
}

// ProvideRouter 提供 HTTP 路由
func ProvideRouter(cfg *config.Config, handlers *router.Handlers, ledger *credit.Ledger, limiter *redis.RateLimiter) *router.Router {
	return router.New(cfg, handlers, ledger, limiter)
}
