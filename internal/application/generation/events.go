package generation

import (
	"context"
	"encoding/json"
)

// EventType 流事件类型
type EventType string

const (
	EventStatus   EventType = "status"
	EventContent  EventType = "content"
	EventResearch EventType = "research"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// DraftSectionIndex 初稿内容事件使用的段落序号
const DraftSectionIndex = -1

// 状态事件的阶段标识
const (
	PhaseDrafting       = "drafting"
	PhaseEnhancing      = "enhancing"
	PhaseResearching    = "researching"
	PhaseWriting        = "writing"
	PhaseSectionDone    = "section-complete"
	PhaseSectionError   = "section-error"
	PhasePartialFailure = "partial-failure"
)

// Event 推送给客户端的流事件
//
// content 事件只携带本次新增的片段，客户端按 sectionIndex 顺序拼接。
type Event struct {
	Type         EventType
	Phase        string
	Message      string
	Progress     int
	SectionIndex int
	Content      string
	Status       string
	SectionTitle string
	Findings     []string
	WordCount    int
	ReadingTime  int
	Code         string
}

// Terminal complete 与 error 为终止事件
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// MarshalJSON 按事件类型输出各自的字段集合
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStatus:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Phase    string    `json:"phase"`
			Message  string    `json:"message"`
			Progress int       `json:"progress"`
		}{e.Type, e.Phase, e.Message, e.Progress})
	case EventContent:
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			SectionIndex int       `json:"sectionIndex"`
			Content      string    `json:"content"`
			Status       string    `json:"status"`
		}{e.Type, e.SectionIndex, e.Content, e.Status})
	case EventResearch:
		findings := e.Findings
		if findings == nil {
			findings = []string{}
		}
		return json.Marshal(struct {
			Type         EventType `json:"type"`
			SectionTitle string    `json:"sectionTitle"`
			Findings     []string  `json:"findings"`
		}{e.Type, e.SectionTitle, findings})
	case EventComplete:
		return json.Marshal(struct {
			Type        EventType `json:"type"`
			Content     string    `json:"content"`
			Progress    int       `json:"progress"`
			WordCount   int       `json:"wordCount"`
			ReadingTime int       `json:"readingTime"`
		}{e.Type, e.Content, e.Progress, e.WordCount, e.ReadingTime})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Message string    `json:"message"`
			Code    string    `json:"code,omitempty"`
		}{EventError, e.Message, e.Code})
	}
}

func statusEvent(phase, message string, progress int) Event {
	return Event{Type: EventStatus, Phase: phase, Message: message, Progress: progress}
}

func contentEvent(sectionIndex int, delta, status string) Event {
	return Event{Type: EventContent, SectionIndex: sectionIndex, Content: delta, Status: status}
}

func researchEvent(sectionTitle string, findings []string) Event {
	return Event{Type: EventResearch, SectionTitle: sectionTitle, Findings: findings}
}

func completeEvent(content string) Event {
	stats := ComputeStats(content)
	return Event{
		Type:        EventComplete,
		Content:     content,
		Progress:    100,
		WordCount:   stats.WordCount,
		ReadingTime: stats.ReadingTime,
	}
}

// ErrorEvent 构造错误事件
func ErrorEvent(message, code string) Event {
	return Event{Type: EventError, Message: message, Code: code}
}

// Sink 事件出口
//
// Send 必须在 ctx 结束时返回，不能无限阻塞生产者。
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc 函数适配器
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }
