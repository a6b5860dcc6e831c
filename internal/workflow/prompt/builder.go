// Package prompt 负责把生成请求渲染成模型提示词
package prompt

import (
	"context"
	"fmt"
	"strings"

	"articleforge-api/internal/domain/entity"
	apperrors "articleforge-api/pkg/errors"
)

// Stage 提示词阶段
type Stage string

const (
	StageTitle         Stage = "title"
	StageOutline       Stage = "outline"
	StageDraft         Stage = "draft"
	StageResearchQuery Stage = "research-query"
	StageEnhance       Stage = "enhance"
	StageKeywords      Stage = "keywords"
	StageAudience      Stage = "audience"
)

const (
	defaultAudience = "general readers"
	noKeywords      = "none"
	noFindings      = "No research findings were available. Improve the section using general knowledge only."
	maxQueryWords   = 16
)

// Prompt 一次模型调用的系统与用户消息
type Prompt struct {
	System string
	User   string
}

// Input 渲染所需的全部数据
//
// Section 与 Findings 仅在 research-query 和 enhance 阶段使用。
type Input struct {
	Request  entity.GenerationRequest
	Section  *entity.OutlineSection
	Findings []string
}

// Builder 按阶段渲染提示词，输出只取决于输入
type Builder struct {
	registry *Registry
}

// NewBuilder 创建提示词构建器
func NewBuilder() *Builder {
	return &Builder{registry: NewRegistry()}
}

var stagePrompts = map[Stage]PromptID{
	StageTitle:    PromptTitleV1,
	StageOutline:  PromptOutlineV1,
	StageDraft:    PromptDraftV1,
	StageEnhance:  PromptEnhanceV1,
	StageKeywords: PromptKeywordsV1,
	StageAudience: PromptAudienceV1,
}

// Build 渲染指定阶段的提示词
func (b *Builder) Build(ctx context.Context, stage Stage, in Input) (Prompt, error) {
	if stage == StageResearchQuery {
		return buildResearchQuery(in)
	}

	id, ok := stagePrompts[stage]
	if !ok {
		return Prompt{}, apperrors.ErrInvalidStage.WithDetail(fmt.Sprintf("unknown prompt stage %q", stage))
	}
	if err := validate(stage, in); err != nil {
		return Prompt{}, err
	}

	tpl, err := b.registry.ChatTemplate(id)
	if err != nil {
		return Prompt{}, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to load prompt template")
	}
	msgs, err := tpl.Format(ctx, variables(in))
	if err != nil {
		return Prompt{}, apperrors.Wrap(err, apperrors.CodeInternalError, "failed to render prompt")
	}
	if len(msgs) != 2 {
		return Prompt{}, apperrors.New(apperrors.CodeInternalError, "prompt template must render system and user messages")
	}
	return Prompt{System: msgs[0].Content, User: msgs[1].Content}, nil
}

func validate(stage Stage, in Input) error {
	req := in.Request
	switch stage {
	case StageTitle, StageOutline, StageKeywords, StageAudience:
		if strings.TrimSpace(req.Topic) == "" {
			return missing("topic")
		}
	case StageDraft:
		if strings.TrimSpace(req.Topic) == "" {
			return missing("topic")
		}
		if len(req.Outline) == 0 {
			return missing("outline")
		}
	case StageEnhance:
		if in.Section == nil || strings.TrimSpace(in.Section.Title) == "" {
			return missing("outline")
		}
	}
	return nil
}

func missing(field string) error {
	return apperrors.ErrMissingRequiredField.WithDetail(field + " is required")
}

func variables(in Input) map[string]any {
	req := in.Request
	vars := map[string]any{
		"topic":    req.Topic,
		"title":    req.EffectiveTitle(),
		"keywords": joinKeywords(req.Keywords),
		"audience": orDefault(req.Audience, defaultAudience),
		"tone":     string(orTone(req.Tone)),
		"count":    entity.ClampTitleCount(countOrDefault(req.TitleCount)),
		"outline":  FormatOutline(req.Outline),
	}

	vars["section_title"] = ""
	vars["section_brief"] = ""
	if in.Section != nil {
		vars["section_title"] = strings.TrimSpace(in.Section.Title)
		vars["section_brief"] = orDefault(in.Section.Content, "(no brief)")
	}
	vars["findings"] = formatFindings(in.Findings)
	return vars
}

// FormatOutline 渲染带编号的大纲，每行 "N. 标题 - 简介"
func FormatOutline(outline []entity.OutlineSection) string {
	var sb strings.Builder
	for i, s := range outline {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, strings.TrimSpace(s.Title))
		if brief := strings.TrimSpace(s.Content); brief != "" {
			sb.WriteString(" - ")
			sb.WriteString(brief)
		}
	}
	return sb.String()
}

func formatFindings(findings []string) string {
	var sb strings.Builder
	n := 0
	for _, f := range findings {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if n > 0 {
			sb.WriteString("\n\n")
		}
		n++
		fmt.Fprintf(&sb, "[%d] %s", n, f)
	}
	if n == 0 {
		return noFindings
	}
	return sb.String()
}

// buildResearchQuery 由段落标题、主题和首个关键词拼出搜索词
func buildResearchQuery(in Input) (Prompt, error) {
	if in.Section == nil || strings.TrimSpace(in.Section.Title) == "" {
		return Prompt{}, missing("outline")
	}
	parts := []string{in.Section.Title, in.Request.Topic}
	if len(in.Request.Keywords) > 0 {
		parts = append(parts, in.Request.Keywords[0])
	}

	var words []string
	seen := make(map[string]struct{})
	for _, p := range parts {
		for _, w := range strings.Fields(p) {
			key := strings.ToLower(strings.Trim(w, ".,:;!?\"'"))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			words = append(words, w)
		}
	}
	if len(words) > maxQueryWords {
		words = words[:maxQueryWords]
	}
	return Prompt{User: strings.Join(words, " ")}, nil
}

func joinKeywords(keywords []string) string {
	if len(keywords) == 0 {
		return noKeywords
	}
	return strings.Join(keywords, ", ")
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func orTone(t entity.Tone) entity.Tone {
	if t == "" {
		return entity.ToneProfessional
	}
	return t
}

func countOrDefault(n int) int {
	if n == 0 {
		return entity.DefaultTitleCount
	}
	return n
}
