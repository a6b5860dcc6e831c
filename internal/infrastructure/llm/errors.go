package llm

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	openai "github.com/openai/openai-go"

	apperrors "articleforge-api/pkg/errors"
)

// classify 把驱动错误归类为 RateLimited、ProviderRejected 或 ProviderUnavailable
//
// 调用方 ctx 已结束时原样返回 ctx.Err()，不当作上游故障。
// 429 以外的 4xx 多为密钥或参数问题，重试无益，归为 ProviderRejected。
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if apperrors.IsAppError(err) {
		return err
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode, err)
	}
	if code, ok := statusFromMessage(err); ok {
		return classifyStatus(code, err)
	}
	if IsRateLimitError(err) {
		return apperrors.ErrRateLimited.WithError(err)
	}
	return apperrors.ErrProviderUnavailable.WithError(err)
}

func classifyStatus(code int, err error) error {
	switch {
	case code == http.StatusTooManyRequests:
		return apperrors.ErrRateLimited.WithError(err)
	case code >= 400 && code < 500:
		return apperrors.ErrProviderRejected.WithError(err)
	default:
		return apperrors.ErrProviderUnavailable.WithError(err)
	}
}

// eino-ext 的 OpenAI 适配层不导出状态码，错误文本形如 "error, status code: 429, ..."
var statusCodePattern = regexp.MustCompile(`status code: (\d{3})`)

func statusFromMessage(err error) (int, bool) {
	m := statusCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return code, true
}

// IsRateLimitError 通过错误文本识别限流与配额信号
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := statusFromMessage(err); ok {
		return code == http.StatusTooManyRequests
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "rate_limit"):
		return true
	case strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "insufficient_quota"), strings.Contains(msg, "quota exceeded"):
		return true
	default:
		return false
	}
}
