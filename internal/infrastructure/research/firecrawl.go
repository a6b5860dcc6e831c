// Package research 提供联网调研检索
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"

	"articleforge-api/internal/config"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
	"articleforge-api/pkg/tracer"
)

const (
	DefaultLimit    = 3
	DefaultMaxChars = 2000

	searchPath   = "/v1/search"
	maxBodyBytes = 4 << 20
	logBodyChars = 512
)

// Searcher 检索接口，返回清洗后的文本片段
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// FirecrawlClient Firecrawl 搜索客户端
type FirecrawlClient struct {
	baseURL      string
	apiKey       string
	defaultLimit int
	maxChars     int
	httpClient   *http.Client
}

// NewFirecrawlClient 创建 Firecrawl 客户端
func NewFirecrawlClient(cfg *config.ResearchConfig) *FirecrawlClient {
	timeout := cfg.Firecrawl.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &FirecrawlClient{
		baseURL:      strings.TrimRight(cfg.Firecrawl.BaseURL, "/"),
		apiKey:       cfg.Firecrawl.APIKey,
		defaultLimit: cfg.DefaultLimit,
		maxChars:     cfg.MaxChars,
		httpClient:   &http.Client{Timeout: timeout},
	}
	if c.defaultLimit <= 0 {
		c.defaultLimit = DefaultLimit
	}
	if c.maxChars <= 0 {
		c.maxChars = DefaultMaxChars
	}
	return c
}

type searchRequest struct {
	Query         string        `json:"query"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type scrapeOptions struct {
	Formats []string `json:"formats"`
}

// Search 检索并返回最多 limit 条文本；无结果或 404 返回空切片
func (c *FirecrawlClient) Search(ctx context.Context, query string, limit int) (results []string, err error) {
	if limit <= 0 {
		limit = c.defaultLimit
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []string{}, nil
	}

	ctx, span := tracer.StartClient(ctx, "research.firecrawl.search",
		attribute.String("research.query", query),
		attribute.Int("research.limit", limit),
	)
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ResearchSearchTotal.WithLabelValues(status).Inc()
		metrics.ResearchSearchDuration.Observe(time.Since(start).Seconds())
		tracer.End(span, err)
	}()

	payload, err := json.Marshal(searchRequest{
		Query:         query,
		Limit:         limit,
		ScrapeOptions: scrapeOptions{Formats: []string{"markdown"}},
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.ErrProviderUnavailable.WithError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.ErrProviderUnavailable.WithError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.ErrProviderUnavailable.WithError(err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return []string{}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		logger.Warn(ctx, "firecrawl rate limited", "status", resp.StatusCode, "body", truncateRunes(string(body), logBodyChars))
		return nil, apperrors.ErrRateLimited.WithDetail("research provider rate limited")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		logger.Warn(ctx, "firecrawl search failed", "status", resp.StatusCode, "body", truncateRunes(string(body), logBodyChars))
		return nil, apperrors.ErrProviderUnavailable.WithDetail(fmt.Sprintf("research provider returned status %d", resp.StatusCode))
	}

	if !gjson.ValidBytes(body) {
		logger.Warn(ctx, "firecrawl returned invalid json", "body", truncateRunes(string(body), logBodyChars))
		return nil, apperrors.ErrProviderUnavailable.WithDetail("research provider returned an invalid response")
	}
	parsed := gjson.ParseBytes(body)
	if ok := parsed.Get("success"); ok.Exists() && !ok.Bool() {
		logger.Warn(ctx, "firecrawl search unsuccessful", "error", parsed.Get("error").String())
		return nil, apperrors.ErrProviderUnavailable.WithDetail("research provider reported a failure")
	}

	results = make([]string, 0, limit)
	parsed.Get("data").ForEach(func(_, item gjson.Result) bool {
		text := item.Get("markdown").String()
		if strings.TrimSpace(text) == "" {
			text = item.Get("description").String()
		}
		if text = c.clean(text); text != "" {
			results = append(results, text)
		}
		return len(results) < limit
	})

	logger.Debug(ctx, "firecrawl search finished", "query", query, "results", len(results))
	return results, nil
}

// clean 去除 HTML 标签、折叠空白并按字符截断
func (c *FirecrawlClient) clean(s string) string {
	return truncateRunes(collapseWhitespace(StripHTML(s)), c.maxChars)
}

// StripHTML 提取文本节点，丢弃 script/style
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "tr":
				sb.WriteByte(' ')
			}
		}
	}
	walk(doc)
	return sb.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	n := 0
	for i := range s {
		if n == maxRunes {
			return s[:i]
		}
		n++
	}
	return s
}
