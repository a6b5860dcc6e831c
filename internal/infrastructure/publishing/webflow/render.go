package webflow

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
			// 原始 HTML 交给 bluemonday 清理
			html.WithUnsafe(),
		),
	)
	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("table", "thead", "tbody", "tr", "th", "td")
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code")
	return p
}

// RenderHTML 把 Markdown 渲染为清理过的 HTML，用于 RichText 字段
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return policy.Sanitize(buf.String()), nil
}

// stripTitleHeading 去掉正文开头与标题重复的 "# " 一级标题，CMS 模板会单独渲染 name 字段
func stripTitleHeading(md string) string {
	trimmed := strings.TrimLeft(md, " \t\r\n")
	if !strings.HasPrefix(trimmed, "# ") {
		return md
	}
	if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
		return strings.TrimLeft(trimmed[i+1:], "\r\n")
	}
	return ""
}

const maxSlugLen = 96

// Slugify 小写 ASCII 字母数字，其余字符折叠为单个 "-"
func Slugify(s string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			sb.WriteRune(r)
			dash = false
		case sb.Len() > 0 && !dash:
			sb.WriteByte('-')
			dash = true
		}
		if sb.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}
