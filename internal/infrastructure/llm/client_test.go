package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/service"
	apperrors "articleforge-api/pkg/errors"
)

type fakeChatModel struct {
	reply   string
	chunks  []string
	err     error
	midErr  error
	lastOpt *model.Options
}

func (m *fakeChatModel) Generate(_ context.Context, _ []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.lastOpt = model.GetCommonOptions(nil, opts...)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if m.err != nil {
		return nil, m.err
	}
	sr, sw := schema.Pipe[*schema.Message](len(m.chunks) + 2)
	go func() {
		defer sw.Close()
		for _, c := range m.chunks {
			sw.Send(schema.AssistantMessage(c, nil), nil)
		}
		// 末尾的空 Content 消息模拟 usage 统计包
		sw.Send(schema.AssistantMessage("", nil), nil)
		if m.midErr != nil {
			sw.Send(nil, m.midErr)
		}
	}()
	return sr, nil
}

func newTestClient(t *testing.T, fake *fakeChatModel) *Client {
	t.Helper()
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "fake",
		Providers:       map[string]config.ProviderConfig{"fake": {Driver: DriverEino, Model: "fake-model"}},
	}}
	factory := NewEinoFactory(cfg)
	factory.Register("fake", fake)
	return NewClient(cfg, factory)
}

func TestCompleteReturnsText(t *testing.T) {
	fake := &fakeChatModel{reply: "hello"}
	c := newTestClient(t, fake)

	out, err := c.Complete(context.Background(), "sys", "user", Params{Temperature: 5, MaxTokens: MaxTokensShort})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Fatalf("out = %q", out)
	}
	if fake.lastOpt.Temperature == nil || *fake.lastOpt.Temperature != 2 {
		t.Fatalf("temperature should be clamped to 2, got %v", fake.lastOpt.Temperature)
	}
	if fake.lastOpt.MaxTokens == nil || *fake.lastOpt.MaxTokens != MaxTokensShort {
		t.Fatalf("max tokens not forwarded")
	}
}

func TestCompleteBlankIsEmptyResponse(t *testing.T) {
	c := newTestClient(t, &fakeChatModel{reply: "  \n"})
	_, err := c.Complete(context.Background(), "", "user", NewParams(10))
	if !errors.Is(err, apperrors.ErrEmptyResponse) {
		t.Fatalf("err = %v, want empty response", err)
	}
}

func TestCompleteClassifiesErrors(t *testing.T) {
	cases := []struct {
		err  error
		want error
	}{
		{fmt.Errorf("error, status code: 429, message: Rate limit reached"), apperrors.ErrRateLimited},
		{fmt.Errorf("insufficient_quota"), apperrors.ErrRateLimited},
		{fmt.Errorf("error, status code: 503, message: overloaded"), apperrors.ErrProviderUnavailable},
		{fmt.Errorf("dial tcp: connection refused"), apperrors.ErrProviderUnavailable},
		{fmt.Errorf("error, status code: 401, message: Incorrect API key"), apperrors.ErrProviderRejected},
		{fmt.Errorf("error, status code: 400, message: context length exceeded"), apperrors.ErrProviderRejected},
		{fmt.Errorf("error, status code: 500, message: request 4291 failed"), apperrors.ErrProviderUnavailable},
		{fmt.Errorf("read tcp 10.0.0.1:4290: connection reset"), apperrors.ErrProviderUnavailable},
	}
	for _, tc := range cases {
		c := newTestClient(t, &fakeChatModel{err: tc.err})
		_, err := c.Complete(context.Background(), "", "user", NewParams(10))
		if !errors.Is(err, tc.want) {
			t.Fatalf("%v classified as %v", tc.err, err)
		}
	}
}

func TestCompleteCanceledContext(t *testing.T) {
	c := newTestClient(t, &fakeChatModel{err: errors.New("request aborted")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, "", "user", NewParams(10))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStreamYieldsDeltasThenEOF(t *testing.T) {
	c := newTestClient(t, &fakeChatModel{chunks: []string{"# Title", "\n\nBody", " text"}})
	stream, err := c.Stream(context.Background(), "sys", "user", NewParams(MaxTokensDraft))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var got []string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got = append(got, chunk)
	}
	if strings.Join(got, "") != "# Title\n\nBody text" || len(got) != 3 {
		t.Fatalf("chunks = %q", got)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("exhausted stream should keep returning EOF, got %v", err)
	}
}

func TestStreamMidStreamError(t *testing.T) {
	c := newTestClient(t, &fakeChatModel{chunks: []string{"partial"}, midErr: errors.New("status code: 502")})
	stream, err := c.Stream(context.Background(), "", "user", NewParams(10))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	if chunk, err := stream.Recv(); err != nil || chunk != "partial" {
		t.Fatalf("first Recv = %q, %v", chunk, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want provider unavailable", err)
	}
}

func TestUnknownProviderFallsBackToDefault(t *testing.T) {
	c := newTestClient(t, &fakeChatModel{reply: "ok"})
	ctx := service.WithProvider(context.Background(), "missing")
	if out, err := c.Complete(ctx, "", "user", NewParams(10)); err != nil || out != "ok" {
		t.Fatalf("Complete = %q, %v", out, err)
	}
}

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := &config.Config{LLM: config.LLMConfig{
		DefaultProvider: "sdk",
		Providers: map[string]config.ProviderConfig{"sdk": {
			Driver: DriverOpenAISDK, APIKey: "test", BaseURL: srv.URL, Model: "gpt-test", Timeout: 5 * time.Second,
		}},
	}}
	return NewClient(cfg, NewEinoFactory(cfg))
}

func TestOpenAIDriverComplete(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Title A\nTitle B"}}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`)
	})

	out, err := c.Complete(context.Background(), "sys", "user", NewParams(MaxTokensShort))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "Title A\nTitle B" {
		t.Fatalf("out = %q", out)
	}
}

func TestOpenAIDriverStream(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-test\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	stream, err := c.Stream(context.Background(), "", "user", NewParams(10))
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		sb.WriteString(chunk)
	}
	if sb.String() != "Hello" {
		t.Fatalf("streamed = %q", sb.String())
	}
}

func TestOpenAIDriverRateLimited(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After-Ms", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	})

	_, err := c.Complete(context.Background(), "", "user", NewParams(10))
	if !errors.Is(err, apperrors.ErrRateLimited) {
		t.Fatalf("err = %v, want rate limited", err)
	}
}

func TestOpenAIDriverInvalidKeyIsRejected(t *testing.T) {
	c := newOpenAIServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	})

	_, err := c.Complete(context.Background(), "", "user", NewParams(10))
	if !errors.Is(err, apperrors.ErrProviderRejected) {
		t.Fatalf("err = %v, want provider rejected", err)
	}
}
