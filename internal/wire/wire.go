//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"articleforge-api/internal/config"
	"articleforge-api/internal/interfaces/http/handler"
	"articleforge-api/internal/interfaces/http/router"
	"articleforge-api/internal/infrastructure/persistence/redis"
)

// InitializeStorage 仅初始化持久化层（用于 bootstrap）
func InitializeStorage(ctx context.Context, cfg *config.Config) (*Storage, func(), error) {
	wire.Build(ProvideStorage)
	return nil, nil, nil
}

// InitializeApp 初始化 API 网关
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		StorageSet,
		RedisSet,
		MessagingSet,
		GenerationSet,
		PublishingSet,
		RouterSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化后台任务进程
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		StorageSet,
		RedisSet,
		MessagingSet,
		PublishingSet,
		ProvideMessagingConsumer,
		ProvideScheduler,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// StorageSet 持久化提供者集合
var StorageSet = wire.NewSet(
	ProvideStorage,
	ProvideLedger,
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	ProvideCache,
	redis.NewRateLimiter,
	ProvideRunLock,
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
)

// GenerationSet 生成编排提供者集合
var GenerationSet = wire.NewSet(
	ProvideCompleter,
	ProvideSearcher,
	ProvideRegistry,
	ProvideOrchestrator,
)

// PublishingSet 发布提供者集合
var PublishingSet = wire.NewSet(
	ProvideWebflowClient,
	ProvidePublishingService,
	ProvideArticleService,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideHealthHandler,
	ProvideGenerationHandler,
	handler.NewArticleHandler,
	handler.NewCMSConnectionHandler,
	handler.NewCreditHandler,
	wire.Struct(new(router.Handlers), "*"),
	ProvideRouter,
)
