// Package webflow 通过 Webflow Data API v2 发布文章
package webflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/entity"
	redisinfra "articleforge-api/internal/infrastructure/persistence/redis"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/tracer"
)

const (
	DefaultBaseURL           = "https://api.webflow.com"
	DefaultRequestsPerMinute = 60
	DefaultSchemaCacheTTL    = 10 * time.Minute

	FieldTypeRichText = "RichText"
	FieldTypeDateTime = "DateTime"

	maxBodyBytes = 2 << 20
	logBodyChars = 512
)

// Field 集合字段
type Field struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
	IsRequired  bool   `json:"isRequired"`
}

// Collection 集合结构
type Collection struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Slug        string  `json:"slug"`
	Fields      []Field `json:"fields"`
}

// FieldType 返回字段类型，不存在时返回空串
func (c *Collection) FieldType(slug string) (string, bool) {
	for _, f := range c.Fields {
		if f.Slug == slug {
			return f.Type, true
		}
	}
	return "", false
}

// Site 站点信息，用于拼接外链
type Site struct {
	ID            string   `json:"id"`
	ShortName     string   `json:"shortName"`
	CustomDomains []string `json:"customDomains"`
}

// Host 优先使用自定义域名
func (s *Site) Host() string {
	for _, d := range s.CustomDomains {
		if d = strings.TrimSpace(d); d != "" {
			return d
		}
	}
	return s.ShortName + ".webflow.io"
}

// PublishOptions 发布选项
type PublishOptions struct {
	// PublishLive 直接发布到线上，否则仅写入暂存
	PublishLive bool
}

// PublishResult 发布结果
type PublishResult struct {
	ExternalID  string `json:"external_id"`
	ExternalURL string `json:"external_url"`
}

// Client Webflow API 客户端
//
// 出站请求共用一个令牌桶，按每分钟预算限速；集合与站点结构缓存在 Redis。
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *redisinfra.Cache
	cacheTTL   time.Duration
	now        func() time.Time
}

// NewClient 创建客户端；cache 为 nil 时每次都请求结构
func NewClient(cfg *config.WebflowConfig, cache *redisinfra.Cache) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ttl := cfg.SchemaCacheTTL
	if ttl <= 0 {
		ttl = DefaultSchemaCacheTTL
	}
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
		cache:      cache,
		cacheTTL:   ttl,
		now:        time.Now,
	}
}

// GetCollection 读取集合结构
func (c *Client) GetCollection(ctx context.Context, token, collectionID string) (*Collection, error) {
	load := func(ctx context.Context) (any, error) {
		body, err := c.do(ctx, token, http.MethodGet, "/v2/collections/"+collectionID, nil)
		if err != nil {
			return nil, err
		}
		var col Collection
		if err := json.Unmarshal(body, &col); err != nil {
			return nil, apperrors.ErrPublishFailed.WithDetail("invalid collection schema response")
		}
		return &col, nil
	}

	var col Collection
	if err := c.remember(ctx, "collection:"+collectionID, &col, load); err != nil {
		return nil, err
	}
	return &col, nil
}

// GetSite 读取站点信息
func (c *Client) GetSite(ctx context.Context, token, siteID string) (*Site, error) {
	load := func(ctx context.Context) (any, error) {
		body, err := c.do(ctx, token, http.MethodGet, "/v2/sites/"+siteID, nil)
		if err != nil {
			return nil, err
		}
		parsed := gjson.ParseBytes(body)
		site := &Site{ID: parsed.Get("id").String(), ShortName: parsed.Get("shortName").String()}
		parsed.Get("customDomains").ForEach(func(_, d gjson.Result) bool {
			site.CustomDomains = append(site.CustomDomains, d.Get("url").String())
			return true
		})
		return site, nil
	}

	var site Site
	if err := c.remember(ctx, "site:"+siteID, &site, load); err != nil {
		return nil, err
	}
	return &site, nil
}

func (c *Client) remember(ctx context.Context, key string, dest any, load func(ctx context.Context) (any, error)) error {
	if c.cache != nil {
		return c.cache.Remember(ctx, key, c.cacheTTL, dest, load)
	}
	v, err := load(ctx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

type itemBody struct {
	IsArchived bool           `json:"isArchived"`
	IsDraft    bool           `json:"isDraft"`
	FieldData  map[string]any `json:"fieldData"`
}

// Publish 创建或更新集合条目
//
// 文章已发布到同一集合时按 externalId 更新，否则创建。映射到集合中不存在的字段会被跳过。
func (c *Client) Publish(ctx context.Context, article *entity.Article, conn *entity.CMSConnection, collectionID string, mapping map[string]string, opts PublishOptions) (*PublishResult, error) {
	if collectionID == "" {
		collectionID = conn.DefaultCollectionID
	}
	if collectionID == "" {
		return nil, apperrors.ErrMissingRequiredField.WithDetail("collection_id is required")
	}

	ctx, span := tracer.StartClient(ctx, "webflow.publish",
		attribute.String("webflow.collection_id", collectionID),
		attribute.Bool("webflow.live", opts.PublishLive),
	)
	var err error
	defer func() { tracer.End(span, err) }()

	col, err := c.GetCollection(ctx, conn.APIToken, collectionID)
	if err != nil {
		return nil, err
	}
	fields, err := c.fieldData(ctx, article, col, mapping)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(itemBody{FieldData: fields})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to encode item")
	}

	method, path := http.MethodPost, "/v2/collections/"+collectionID+"/items"
	if article.PublishedInto(collectionID) {
		method, path = http.MethodPatch, path+"/"+*article.ExternalID
	}
	if opts.PublishLive {
		path += "/live"
	}

	body, err := c.do(ctx, conn.APIToken, method, path, payload)
	if err != nil {
		return nil, err
	}
	item := gjson.ParseBytes(body)
	itemID := item.Get("id").String()
	if itemID == "" {
		err = apperrors.ErrPublishFailed.WithDetail("webflow response did not include an item id")
		return nil, err
	}
	itemSlug := item.Get("fieldData.slug").String()
	if itemSlug == "" {
		itemSlug, _ = fields["slug"].(string)
	}

	result := &PublishResult{ExternalID: itemID}
	site, siteErr := c.GetSite(ctx, conn.APIToken, conn.SiteID)
	if siteErr != nil {
		logger.Warn(ctx, "webflow site lookup failed, external url left empty", "site_id", conn.SiteID, "error", siteErr)
	} else {
		result.ExternalURL = fmt.Sprintf("https://%s/%s/%s", site.Host(), col.Slug, itemSlug)
	}
	return result, nil
}

// fieldData 按映射与集合结构生成 fieldData
func (c *Client) fieldData(ctx context.Context, a *entity.Article, col *Collection, mapping map[string]string) (map[string]any, error) {
	values := map[string]string{
		entity.FieldTitle:           a.Title,
		entity.FieldSlug:            Slugify(a.Title),
		entity.FieldContent:         stripTitleHeading(a.Content),
		entity.FieldMetaDescription: a.MetaDescription,
		entity.FieldKeywords:        strings.Join(a.Keywords, ", "),
		entity.FieldTargetAudience:  a.TargetAudience,
		entity.FieldPublishedAt:     c.now().UTC().Format(time.RFC3339),
	}

	out := make(map[string]any, len(mapping))
	for articleField, target := range mapping {
		value, known := values[articleField]
		if !known || value == "" {
			continue
		}
		fieldType, exists := col.FieldType(target)
		if len(col.Fields) > 0 && !exists {
			logger.Warn(ctx, "mapped field missing from webflow collection", "field", target, "collection_id", col.ID)
			continue
		}
		if fieldType == FieldTypeRichText {
			rendered, err := RenderHTML(value)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to render article content")
			}
			value = rendered
		}
		out[target] = value
	}
	if _, ok := out["name"]; !ok {
		out["name"] = a.Title
	}
	if _, ok := out["slug"]; !ok {
		out["slug"] = Slugify(a.Title)
	}
	return out, nil
}

// do 发送请求并把非 2xx 映射为应用错误；响应体只记日志
func (c *Client) do(ctx context.Context, token, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, apperrors.ErrPublishFailed.WithError(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.ErrPublishFailed.WithError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.ErrPublishFailed.WithError(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	logger.Warn(ctx, "webflow request failed",
		"method", method, "path", path, "status", resp.StatusCode, "body", truncate(string(body), logBodyChars))
	msg := gjson.GetBytes(body, "message").String()
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return nil, apperrors.ErrRateLimited.WithDetail("webflow rate limit reached")
	case http.StatusNotFound:
		return nil, apperrors.ErrNotFound.WithDetail("webflow resource not found: " + path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, apperrors.ErrPublishFailed.WithDetail("webflow rejected the api token")
	case http.StatusBadRequest:
		return nil, apperrors.ErrPublishFailed.WithDetail("webflow rejected the item: " + truncate(msg, 200))
	default:
		return nil, apperrors.ErrPublishFailed.WithDetail(fmt.Sprintf("webflow returned status %d", resp.StatusCode))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
