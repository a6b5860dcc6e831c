// Package sse 把生成事件转成 text/event-stream 响应
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gin-gonic/gin"

	"articleforge-api/internal/application/generation"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

// ErrStreamClosed 终止事件之后继续发送
var ErrStreamClosed = errors.New("stream already closed")

const defaultBuffer = 32

// Relay 生产者与 HTTP 写出之间的事件通道
//
// 每个流最多一个终止事件（complete 或 error），之后的发送全部拒绝。
type Relay struct {
	ch chan generation.Event

	mu       sync.Mutex
	terminal bool
}

// NewRelay 创建事件中继
func NewRelay(buffer int) *Relay {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Relay{ch: make(chan generation.Event, buffer)}
}

// Send 实现 generation.Sink；ctx 结束时立即返回，不阻塞生产者
func (r *Relay) Send(ctx context.Context, ev generation.Event) error {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return ErrStreamClosed
	}
	if ev.Terminal() {
		r.terminal = true
	}
	r.mu.Unlock()

	select {
	case r.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed 是否已发送终止事件
func (r *Relay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminal
}

// Produce 执行 run 并在其返回错误且尚未终止时补发 error 事件
func (r *Relay) Produce(ctx context.Context, run func(ctx context.Context, sink generation.Sink) error) {
	defer close(r.ch)

	err := run(ctx, r)
	if err == nil || r.Closed() {
		return
	}
	appErr := apperrors.AsAppError(err)
	if !apperrors.IsAppError(err) {
		logger.Error(ctx, "generation stream failed", err)
	}
	if sendErr := r.Send(ctx, generation.ErrorEvent(appErr.Message, string(appErr.Code))); sendErr != nil {
		logger.Debug(ctx, "error event not delivered", "error", sendErr)
	}
}

// Serve 设置 SSE 响应头，启动 run 并把事件写给客户端，直到终止事件或客户端断开
//
// 客户端断开会取消请求 ctx，从而取消 run 内的所有模型调用。
func Serve(c *gin.Context, buffer int, run func(ctx context.Context, sink generation.Sink) error) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	relay := NewRelay(buffer)
	go relay.Produce(ctx, run)

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-relay.ch:
			if !ok {
				return false
			}
			if err := WriteEvent(w, ev); err != nil {
				logger.Warn(ctx, "write sse event failed", "error", err)
				return false
			}
			return !ev.Terminal()
		case <-ctx.Done():
			return false
		}
	})

	// 写出中止后取消生产者并排空通道，等待其退出
	cancel()
	for range relay.ch {
	}
}

// WriteEvent 按 "data: <json>\n\n" 写出单个事件
func WriteEvent(w io.Writer, ev generation.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
