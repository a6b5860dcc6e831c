package callback

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	cbtemplate "github.com/cloudwego/eino/utils/callbacks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"articleforge-api/internal/domain/service"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

type startTimeKey struct{}

type modelNameKey struct{}

func newChatModelCallbackHandler() *cbtemplate.ModelCallbackHandler {
	return &cbtemplate.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ctx = context.WithValue(ctx, startTimeKey{}, time.Now())

			modelName := modelNameFromInput(input)
			ctx = context.WithValue(ctx, modelNameKey{}, modelName)

			attrs := []attribute.KeyValue{
				attribute.String("generation.stage", service.StageFromContext(ctx)),
				attribute.String("llm.provider", service.ProviderFromContext(ctx)),
				attribute.String("llm.model", modelName),
			}
			if info != nil {
				attrs = append(attrs, attribute.String("eino.type", info.Type))
			}

			ctx, _ = otel.Tracer("eino").Start(ctx, "llm.generate",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(attrs...),
			)
			return ctx
		},

		OnEnd: func(ctx context.Context, _ *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			provider := service.ProviderFromContext(ctx)
			modelName := modelNameFromOutput(output)
			if modelName == "" {
				modelName = modelNameFromContext(ctx)
			}

			d := elapsedSeconds(ctx)
			metrics.LLMCallTotal.WithLabelValues(provider, modelName, "success").Inc()
			if d > 0 {
				metrics.LLMCallDuration.WithLabelValues(provider, modelName).Observe(d)
			}

			span := trace.SpanFromContext(ctx)
			if output != nil && output.TokenUsage != nil {
				promptTokens := output.TokenUsage.PromptTokens
				completionTokens := output.TokenUsage.CompletionTokens
				metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "prompt").Add(float64(promptTokens))
				metrics.LLMTokensUsed.WithLabelValues(provider, modelName, "completion").Add(float64(completionTokens))
				span.SetAttributes(
					attribute.Int("llm.prompt_tokens", promptTokens),
					attribute.Int("llm.completion_tokens", completionTokens),
				)
			}
			span.End()

			logger.Debug(ctx, "llm call finished",
				"stage", service.StageFromContext(ctx),
				"provider", provider,
				"model", modelName,
				"duration_ms", int64(d*1000),
			)
			return ctx
		},

		// 流式调用在首包返回时即结束计时，后续读流耗时计入上层阶段指标
		OnEndWithStreamOutput: func(ctx context.Context, _ *einocb.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			output.Close()

			provider := service.ProviderFromContext(ctx)
			modelName := modelNameFromContext(ctx)
			metrics.LLMCallTotal.WithLabelValues(provider, modelName, "success").Inc()
			if d := elapsedSeconds(ctx); d > 0 {
				metrics.LLMCallDuration.WithLabelValues(provider, modelName).Observe(d)
			}
			trace.SpanFromContext(ctx).End()
			return ctx
		},

		OnError: func(ctx context.Context, _ *einocb.RunInfo, err error) context.Context {
			provider := service.ProviderFromContext(ctx)
			modelName := modelNameFromContext(ctx)

			metrics.LLMCallTotal.WithLabelValues(provider, modelName, "error").Inc()
			if d := elapsedSeconds(ctx); d > 0 {
				metrics.LLMCallDuration.WithLabelValues(provider, modelName).Observe(d)
			}

			span := trace.SpanFromContext(ctx)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			logger.Warn(ctx, "llm call failed",
				"stage", service.StageFromContext(ctx),
				"provider", provider,
				"model", modelName,
				"error", err.Error(),
			)
			return ctx
		},
	}
}

func elapsedSeconds(ctx context.Context) float64 {
	start, ok := ctx.Value(startTimeKey{}).(time.Time)
	if !ok || start.IsZero() {
		return 0
	}
	return time.Since(start).Seconds()
}

func modelNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(modelNameKey{}).(string)
	return name
}

func modelNameFromInput(in *model.CallbackInput) string {
	if in == nil || in.Config == nil {
		return ""
	}
	return in.Config.Model
}

func modelNameFromOutput(out *model.CallbackOutput) string {
	if out == nil || out.Config == nil {
		return ""
	}
	return out.Config.Model
}
