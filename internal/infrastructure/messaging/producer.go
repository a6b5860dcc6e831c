package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"articleforge-api/pkg/logger"
	pkgtracer "articleforge-api/pkg/tracer"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
	stream Stream
}

// NewProducer 创建消息生产者；stream 为空时使用默认发布流
func NewProducer(client *redis.Client, stream Stream, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	if stream == "" {
		stream = StreamArticlePublish
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
		stream: stream,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// EnqueuePublish 投递文章发布任务，携带请求与链路标识便于消费端串联日志
func (p *Producer) EnqueuePublish(ctx context.Context, job *PublishJob) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypePublishArticle, job.UserID, job)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("article_id", job.ArticleID)
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}
	if traceID := pkgtracer.TraceID(ctx); traceID != "" {
		msg.SetMetadata("trace_id", traceID)
	}
	return p.Publish(ctx, p.stream, msg)
}
