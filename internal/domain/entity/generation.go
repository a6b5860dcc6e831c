// Package entity 定义领域实体
package entity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Tone 文章语气
type Tone string

const (
	ToneProfessional   Tone = "professional"
	ToneCasual         Tone = "casual"
	ToneAuthoritative  Tone = "authoritative"
	ToneConversational Tone = "conversational"
	ToneTechnical      Tone = "technical"
)

// ParseTone 解析语气，空值返回默认的 professional
func ParseTone(s string) (Tone, error) {
	switch t := Tone(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return ToneProfessional, nil
	case ToneProfessional, ToneCasual, ToneAuthoritative, ToneConversational, ToneTechnical:
		return t, nil
	default:
		return "", fmt.Errorf("unknown tone %q", s)
	}
}

const (
	MinTitleCount     = 1
	MaxTitleCount     = 10
	DefaultTitleCount = 5
)

// OutlineSection 大纲段落
type OutlineSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"` // 段落简介
}

// NewOutlineSection 创建带新 ID 的大纲段落
func NewOutlineSection(title, content string) OutlineSection {
	return OutlineSection{ID: uuid.NewString(), Title: title, Content: content}
}

// GenerationRequest 内容生成请求
type GenerationRequest struct {
	Topic      string           `json:"topic"`
	Keywords   []string         `json:"keywords"`
	Audience   string           `json:"audience"`
	Tone       Tone             `json:"tone"`
	TitleCount int              `json:"title_count"`
	Title      string           `json:"title,omitempty"`
	Outline    []OutlineSection `json:"outline"`
}

// Normalize 规整请求：titleCount 限制在 [1,10]，tone 缺省为 professional，大纲段落必须有标题
func (r *GenerationRequest) Normalize() error {
	r.Topic = strings.TrimSpace(r.Topic)
	r.Title = strings.TrimSpace(r.Title)
	r.Audience = strings.TrimSpace(r.Audience)
	r.Keywords = NormalizeKeywords(r.Keywords)

	tone, err := ParseTone(string(r.Tone))
	if err != nil {
		return err
	}
	r.Tone = tone

	if r.TitleCount == 0 {
		r.TitleCount = DefaultTitleCount
	}
	r.TitleCount = ClampTitleCount(r.TitleCount)

	seen := make(map[string]struct{}, len(r.Outline))
	for i := range r.Outline {
		s := &r.Outline[i]
		s.Title = strings.TrimSpace(s.Title)
		if s.Title == "" {
			return fmt.Errorf("outline section %d has no title", i+1)
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate outline section id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// ClampTitleCount 限制标题数量范围
func ClampTitleCount(n int) int {
	if n < MinTitleCount {
		return MinTitleCount
	}
	if n > MaxTitleCount {
		return MaxTitleCount
	}
	return n
}

// EffectiveTitle 已选标题，未选时回退到主题
func (r *GenerationRequest) EffectiveTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Topic
}

// Clone 深拷贝请求
func (r *GenerationRequest) Clone() GenerationRequest {
	cp := *r
	cp.Keywords = append([]string(nil), r.Keywords...)
	cp.Outline = append([]OutlineSection(nil), r.Outline...)
	return cp
}

// SectionIndex 按 ID 查找段落位置
func (r *GenerationRequest) SectionIndex(id string) int {
	for i, s := range r.Outline {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// ReplaceSection 按 ID 替换段落，保留原 ID
func (r *GenerationRequest) ReplaceSection(id string, section OutlineSection) error {
	i := r.SectionIndex(id)
	if i < 0 {
		return fmt.Errorf("outline section %q not found", id)
	}
	section.ID = id
	r.Outline[i] = section
	return nil
}

// DeleteSection 按 ID 删除段落
func (r *GenerationRequest) DeleteSection(id string) error {
	i := r.SectionIndex(id)
	if i < 0 {
		return fmt.Errorf("outline section %q not found", id)
	}
	r.Outline = append(r.Outline[:i], r.Outline[i+1:]...)
	return nil
}

// AddSection 在 position 处插入段落，越界时追加到末尾
func (r *GenerationRequest) AddSection(section OutlineSection, position int) OutlineSection {
	if section.ID == "" || r.SectionIndex(section.ID) >= 0 {
		section.ID = uuid.NewString()
	}
	if position < 0 || position >= len(r.Outline) {
		r.Outline = append(r.Outline, section)
		return section
	}
	r.Outline = append(r.Outline, OutlineSection{})
	copy(r.Outline[position+1:], r.Outline[position:])
	r.Outline[position] = section
	return section
}

// GenerationStage 生成阶段
type GenerationStage string

const (
	StageIdle              GenerationStage = "idle"
	StageGeneratingTitles  GenerationStage = "generating_titles"
	StageGeneratingOutline GenerationStage = "generating_outline"
	StageGeneratingDraft   GenerationStage = "generating_draft"
	StageEnhancing         GenerationStage = "enhancing"
	StageComplete          GenerationStage = "complete"
	StageFailed            GenerationStage = "failed"
)

// Running 是否处于进行中的阶段
func (s GenerationStage) Running() bool {
	switch s {
	case StageGeneratingTitles, StageGeneratingOutline, StageGeneratingDraft, StageEnhancing:
		return true
	}
	return false
}

// SectionStatus 段落增强状态
type SectionStatus string

const (
	SectionPending     SectionStatus = "pending"
	SectionResearching SectionStatus = "researching"
	SectionWriting     SectionStatus = "writing"
	SectionComplete    SectionStatus = "complete"
	SectionError       SectionStatus = "error"
)

func (s SectionStatus) rank() int {
	switch s {
	case SectionPending:
		return 0
	case SectionResearching:
		return 1
	case SectionWriting:
		return 2
	case SectionComplete, SectionError:
		return 3
	}
	return -1
}

// CanAdvanceTo 状态单调推进；error 只能从 researching 或 writing 进入
func (s SectionStatus) CanAdvanceTo(next SectionStatus) bool {
	if next == SectionError {
		return s == SectionResearching || s == SectionWriting
	}
	return next.rank() == s.rank()+1
}

// SectionState 增强阶段的段落状态
type SectionState struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Status  SectionStatus `json:"status"`
	Message string        `json:"message,omitempty"`
	Content string        `json:"content"`
}

// NewSectionStates 为每个大纲段落创建 pending 状态
func NewSectionStates(outline []OutlineSection) []SectionState {
	states := make([]SectionState, len(outline))
	for i, s := range outline {
		states[i] = SectionState{ID: s.ID, Title: s.Title, Status: SectionPending}
	}
	return states
}
