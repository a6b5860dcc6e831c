package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	apperrors "articleforge-api/pkg/errors"
)

// einoDriver 基于 Eino ChatModel 的驱动，调用打点由全局 callback 负责
type einoDriver struct {
	factory  *EinoFactory
	provider string
}

func (d *einoDriver) Complete(ctx context.Context, system, user string, p Params) (string, error) {
	chatModel, err := d.factory.Get(ctx, d.provider)
	if err != nil {
		return "", apperrors.ErrProviderUnavailable.WithError(err)
	}

	out, err := chatModel.Generate(ctx, messages(system, user), modelOptions(p)...)
	if err != nil {
		return "", classify(ctx, err)
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", apperrors.ErrEmptyResponse
	}
	return out.Content, nil
}

// Stream 返回的流需要调用方 Close()
func (d *einoDriver) Stream(ctx context.Context, system, user string, p Params) (ChunkStream, error) {
	chatModel, err := d.factory.Get(ctx, d.provider)
	if err != nil {
		return nil, apperrors.ErrProviderUnavailable.WithError(err)
	}

	sr, err := chatModel.Stream(ctx, messages(system, user), modelOptions(p)...)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return &einoStream{ctx: ctx, sr: sr}, nil
}

func messages(system, user string) []*schema.Message {
	msgs := make([]*schema.Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, schema.SystemMessage(system))
	}
	return append(msgs, schema.UserMessage(user))
}

func modelOptions(p Params) []model.Option {
	opts := []model.Option{model.WithTemperature(float32(p.Temperature))}
	if p.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(p.MaxTokens))
	}
	return opts
}

// einoStream 把 StreamReader 适配为文本增量流
// 流末尾可能有 Content 为空、只带 Usage 的消息，这里跳过
type einoStream struct {
	ctx context.Context
	sr  *schema.StreamReader[*schema.Message]
}

func (s *einoStream) Recv() (string, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			return "", err
		}
		msg, err := s.sr.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", classify(s.ctx, err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		return msg.Content, nil
	}
}

func (s *einoStream) Close() {
	s.sr.Close()
}
