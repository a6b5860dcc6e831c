package service

import (
	"context"
	"strings"
)

type llmCtxKey string

const (
	llmCtxKeyStage    llmCtxKey = "llm_stage"
	llmCtxKeyProvider llmCtxKey = "llm_provider"
)

// WithStage 标记本次模型调用所属的生成阶段，供回调打点使用
func WithStage(ctx context.Context, stage string) context.Context {
	s := strings.TrimSpace(stage)
	if s == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyStage, s)
}

func WithProvider(ctx context.Context, provider string) context.Context {
	p := strings.TrimSpace(provider)
	if p == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyProvider, p)
}

func WithStageProvider(ctx context.Context, stage, provider string) context.Context {
	return WithProvider(WithStage(ctx, stage), provider)
}

func StageFromContext(ctx context.Context) string {
	return valueOr(ctx, llmCtxKeyStage, "unknown")
}

func ProviderFromContext(ctx context.Context) string {
	return valueOr(ctx, llmCtxKeyProvider, "unknown")
}

func valueOr(ctx context.Context, key llmCtxKey, def string) string {
	if ctx == nil {
		return def
	}
	s, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
