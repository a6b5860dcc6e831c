// Package llm 封装大模型补全调用，对上层只暴露文本与文本流
package llm

import (
	"context"
	"fmt"
	"sync"

	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/service"
)

const (
	DriverEino      = "eino"
	DriverOpenAISDK = "openai-sdk"

	DefaultTemperature = 0.7
	MinTemperature     = 0.0
	MaxTemperature     = 2.0
)

// 各阶段的输出上限
const (
	MaxTokensShort   = 300
	MaxTokensOutline = 1000
	MaxTokensDraft   = 4000
	MaxTokensEnhance = 1500
)

// Params 单次调用参数
type Params struct {
	Temperature float64
	MaxTokens   int
}

// NewParams 默认温度 0.7
func NewParams(maxTokens int) Params {
	return Params{Temperature: DefaultTemperature, MaxTokens: maxTokens}
}

// Normalized 温度限制在 [0,2]
func (p Params) Normalized() Params {
	if p.Temperature < MinTemperature {
		p.Temperature = MinTemperature
	}
	if p.Temperature > MaxTemperature {
		p.Temperature = MaxTemperature
	}
	if p.MaxTokens < 0 {
		p.MaxTokens = 0
	}
	return p
}

// ChunkStream 有限的文本增量流，读完返回 io.EOF，不可重放
type ChunkStream interface {
	Recv() (string, error)
	Close()
}

// Completer 补全能力
type Completer interface {
	Complete(ctx context.Context, system, user string, p Params) (string, error)
	Stream(ctx context.Context, system, user string, p Params) (ChunkStream, error)
}

// Client 按 provider 配置路由到具体驱动
//
// provider 取自 ctx（service.WithProvider），未设置或未配置时使用默认 provider。
type Client struct {
	cfg     *config.LLMConfig
	factory *EinoFactory

	mu      sync.Mutex
	drivers map[string]Completer
}

// NewClient 创建补全客户端
func NewClient(cfg *config.Config, factory *EinoFactory) *Client {
	return &Client{
		cfg:     &cfg.LLM,
		factory: factory,
		drivers: make(map[string]Completer),
	}
}

// Complete 阻塞式补全，空白结果返回 EmptyResponse
func (c *Client) Complete(ctx context.Context, system, user string, p Params) (string, error) {
	name, d, err := c.driver(ctx)
	if err != nil {
		return "", err
	}
	return d.Complete(service.WithProvider(ctx, name), system, user, p.Normalized())
}

// Stream 流式补全
func (c *Client) Stream(ctx context.Context, system, user string, p Params) (ChunkStream, error) {
	name, d, err := c.driver(ctx)
	if err != nil {
		return nil, err
	}
	return d.Stream(service.WithProvider(ctx, name), system, user, p.Normalized())
}

func (c *Client) driver(ctx context.Context) (string, Completer, error) {
	name := service.ProviderFromContext(ctx)
	if _, ok := c.cfg.Providers[name]; !ok {
		name = c.cfg.DefaultProvider
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.drivers[name]; ok {
		return name, d, nil
	}

	pc, ok := c.cfg.Providers[name]
	if !ok {
		return "", nil, fmt.Errorf("provider %s not found in LLM config", name)
	}

	var d Completer
	switch pc.Driver {
	case "", DriverEino:
		d = &einoDriver{factory: c.factory, provider: name}
	case DriverOpenAISDK:
		d = newOpenAIDriver(name, pc)
	default:
		return "", nil, fmt.Errorf("unknown llm driver %q for provider %s", pc.Driver, name)
	}
	c.drivers[name] = d
	return name, d, nil
}
