package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/infrastructure/llm"
	"articleforge-api/internal/workflow/prompt"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

// reorderBuffer 把并发段落产生的事件按段落序号重排后写入 sink
//
// 序号等于 next 的段落直接发送，其余暂存；段落结束后推进 next 并冲刷后续段落的积压。
type reorderBuffer struct {
	mu      sync.Mutex
	sink    Sink
	total   int
	next    int
	pending map[int][]Event
	final   map[int]Event
	err     error
}

func newReorderBuffer(sink Sink, total int) *reorderBuffer {
	return &reorderBuffer{
		sink:    sink,
		total:   total,
		pending: make(map[int][]Event),
		final:   make(map[int]Event),
	}
}

// emit 发送或暂存段落 idx 的事件
func (b *reorderBuffer) emit(ctx context.Context, idx int, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	if idx == b.next {
		return b.sendLocked(ctx, ev)
	}
	b.pending[idx] = append(b.pending[idx], ev)
	return nil
}

// finish 标记段落结束，last 为该段最后一个事件，进度在发送时填入
func (b *reorderBuffer) finish(ctx context.Context, idx int, last Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.final[idx] = last

	for b.next < b.total {
		ev, done := b.final[b.next]
		if !done {
			break
		}
		ev.Progress = 100 * (b.next + 1) / b.total
		if err := b.sendLocked(ctx, ev); err != nil {
			return err
		}
		delete(b.final, b.next)
		b.next++

		for _, queued := range b.pending[b.next] {
			if err := b.sendLocked(ctx, queued); err != nil {
				return err
			}
		}
		delete(b.pending, b.next)
	}
	return nil
}

func (b *reorderBuffer) sendLocked(ctx context.Context, ev Event) error {
	if err := send(ctx, b.sink, ev); err != nil {
		b.err = err
		return err
	}
	return nil
}

// sectionProgress 段落 idx 开始时的进度，前面的段落此时均已发送完毕
func sectionProgress(idx, total int) int {
	return 100 * idx / total
}

// enhanceSections 按并发上限逐段调研并重写，返回组装后的 Markdown
//
// 单个段落失败只标记该段为 error；余额不足、取消和事件无法送达会中止整个运行。
func (o *Orchestrator) enhanceSections(ctx context.Context, sess *Session, userID string, req entity.GenerationRequest, draft string, sink Sink) (string, error) {
	total := len(req.Outline)
	if total == 0 {
		return "", apperrors.ErrMissingRequiredField.WithDetail("outline is required")
	}
	if err := send(ctx, sink, statusEvent(PhaseEnhancing, fmt.Sprintf("Enhancing %d sections with research", total), 0)); err != nil {
		return "", err
	}

	buf := newReorderBuffer(sink, total)
	results := make([]string, total)
	failed := make([]bool, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.EnhanceConcurrency)
	for i := range req.Outline {
		g.Go(func() error {
			content, err := o.enhanceSection(gctx, sess, userID, req, i, buf)
			title := req.Outline[i].Title
			if err != nil {
				if abortsRun(err) {
					return err
				}
				logger.Warn(gctx, "section enhancement failed", "section", i, "title", title, "error", err)
				msg := userMessage(err)
				sess.updateSection(i, entity.SectionError, msg, "")
				failed[i] = true
				metrics.GenerationSectionsTotal.WithLabelValues(string(entity.SectionError)).Inc()
				return buf.finish(gctx, i, statusEvent(PhaseSectionError, fmt.Sprintf("Section %q could not be enhanced: %s", title, msg), 0))
			}
			results[i] = content
			sess.updateSection(i, entity.SectionComplete, "", content)
			metrics.GenerationSectionsTotal.WithLabelValues(string(entity.SectionComplete)).Inc()
			return buf.finish(gctx, i, statusEvent(PhaseSectionDone, fmt.Sprintf("Section %q enhanced", title), 0))
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	nFailed := 0
	for _, f := range failed {
		if f {
			nFailed++
		}
	}
	switch {
	case nFailed == total:
		return "", apperrors.ErrProviderUnavailable.WithDetail("all sections failed to enhance")
	case nFailed > 0:
		msg := fmt.Sprintf("%d of %d sections could not be enhanced and keep their draft text", nFailed, total)
		if err := send(ctx, sink, statusEvent(PhasePartialFailure, msg, 100)); err != nil {
			return "", err
		}
	}
	return assembleArticle(req, results, failed, draft), nil
}

// enhanceSection 单个段落：扣费调研、推送调研结果、流式重写
func (o *Orchestrator) enhanceSection(ctx context.Context, sess *Session, userID string, req entity.GenerationRequest, idx int, buf *reorderBuffer) (string, error) {
	section := req.Outline[idx]
	total := len(req.Outline)

	sess.updateSection(idx, entity.SectionResearching, "", "")
	q, err := o.prompts.Build(ctx, prompt.StageResearchQuery, prompt.Input{Request: req, Section: &section})
	if err != nil {
		return "", err
	}
	if err := buf.emit(ctx, idx, statusEvent(PhaseResearching, "Researching: "+section.Title, sectionProgress(idx, total))); err != nil {
		return "", err
	}

	var findings []string
	err = o.ledger.Run(ctx, userID, o.opts.Costs.Research, "research", "Research: "+q.User, func(ctx context.Context) error {
		var err error
		findings, err = o.research.Search(ctx, q.User, o.opts.ResearchLimit)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := buf.emit(ctx, idx, researchEvent(section.Title, findings)); err != nil {
		return "", err
	}

	p, err := o.prompts.Build(ctx, prompt.StageEnhance, prompt.Input{Request: req, Section: &section, Findings: findings})
	if err != nil {
		return "", err
	}
	sess.updateSection(idx, entity.SectionWriting, "", "")
	if err := buf.emit(ctx, idx, statusEvent(PhaseWriting, "Writing: "+section.Title, sectionProgress(idx, total))); err != nil {
		return "", err
	}

	return o.streamText(ctx, p, llm.MaxTokensEnhance, func(delta string) error {
		return buf.emit(ctx, idx, contentEvent(idx, delta, "writing"))
	})
}

// abortsRun 余额不足、取消、数据库故障与事件无法送达中止整个增强
func abortsRun(err error) bool {
	var se *sinkError
	switch {
	case errors.As(err, &se):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, apperrors.ErrInsufficientCredits), errors.Is(err, apperrors.ErrDatabaseError):
		return true
	}
	return false
}

// assembleArticle 组装 "# 标题" 与各 "## 段落"
//
// 失败段落在初稿段数与大纲一致时回退为初稿对应段，否则省略。
func assembleArticle(req entity.GenerationRequest, results []string, failed []bool, draft string) string {
	draftSections := splitDraftSections(draft)
	useDraft := len(draftSections) == len(results)

	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(strings.TrimSpace(req.EffectiveTitle()))
	for i, content := range results {
		if failed[i] {
			if !useDraft {
				continue
			}
			content = draftSections[i]
		}
		content = strings.TrimSpace(content)
		if !strings.HasPrefix(content, "## ") {
			content = "## " + strings.TrimSpace(req.Outline[i].Title) + "\n\n" + content
		}
		sb.WriteString("\n\n")
		sb.WriteString(content)
	}
	sb.WriteString("\n")
	return sb.String()
}
