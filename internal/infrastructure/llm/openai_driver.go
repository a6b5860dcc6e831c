package llm

import (
	"context"
	"io"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"articleforge-api/internal/config"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

// openAIDriver 使用官方 openai-go SDK；不经过 Eino callback，自行上报指标
type openAIDriver struct {
	provider string
	model    string
	client   openai.Client
}

func newOpenAIDriver(provider string, pc config.ProviderConfig) *openAIDriver {
	opts := []option.RequestOption{option.WithAPIKey(pc.APIKey), option.WithMaxRetries(1)}
	if pc.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(pc.BaseURL))
	}
	if pc.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(pc.Timeout))
	}
	return &openAIDriver{
		provider: provider,
		model:    pc.Model,
		client:   openai.NewClient(opts...),
	}
}

func (d *openAIDriver) params(system, user string, p Params) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	msgs = append(msgs, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(d.model),
		Messages:    msgs,
		Temperature: openai.Float(p.Temperature),
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	return params
}

func (d *openAIDriver) Complete(ctx context.Context, system, user string, p Params) (string, error) {
	start := time.Now()
	resp, err := d.client.Chat.Completions.New(ctx, d.params(system, user, p))
	d.observe(start, err)
	if err != nil {
		return "", classify(ctx, err)
	}

	metrics.LLMTokensUsed.WithLabelValues(d.provider, d.model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(d.provider, d.model, "completion").Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperrors.ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (d *openAIDriver) Stream(ctx context.Context, system, user string, p Params) (ChunkStream, error) {
	stream := d.client.Chat.Completions.NewStreaming(ctx, d.params(system, user, p))
	// 请求错误在第一次 Next() 后才能拿到
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		d.observe(time.Now(), err)
		return nil, classify(ctx, err)
	}
	return &openAIStream{ctx: ctx, driver: d, stream: stream, start: time.Now()}, nil
}

func (d *openAIDriver) observe(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.LLMCallTotal.WithLabelValues(d.provider, d.model, status).Inc()
	metrics.LLMCallDuration.WithLabelValues(d.provider, d.model).Observe(time.Since(start).Seconds())
}

type openAIStream struct {
	ctx    context.Context
	driver *openAIDriver
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	start  time.Time
	done   bool
}

func (s *openAIStream) Recv() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		if !s.stream.Next() {
			s.done = true
			err := s.stream.Err()
			s.driver.observe(s.start, err)
			if err != nil {
				return "", classify(s.ctx, err)
			}
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", io.EOF
		}
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() {
	if err := s.stream.Close(); err != nil {
		logger.Debug(s.ctx, "openai stream close failed", "error", err.Error())
	}
}
