// Package generation 编排标题、大纲、初稿与段落增强的生成流程
package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/domain/service"
	"articleforge-api/internal/infrastructure/llm"
	"articleforge-api/internal/infrastructure/research"
	"articleforge-api/internal/workflow/prompt"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

// PromptBuilder 提示词渲染
type PromptBuilder interface {
	Build(ctx context.Context, stage prompt.Stage, in prompt.Input) (prompt.Prompt, error)
}

// Ledger 扣费执行
type Ledger interface {
	Run(ctx context.Context, userID string, cost int, tool, description string, op func(ctx context.Context) error) error
	Precheck(ctx context.Context, userID string, cost int) error
}

// Options 编排参数
type Options struct {
	Costs              config.CreditCosts
	EnhanceConcurrency int
	ResearchLimit      int
}

// OptionsFromConfig 从全局配置提取编排参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Costs:              cfg.Credits.Costs,
		EnhanceConcurrency: cfg.Generation.EnhanceConcurrency,
		ResearchLimit:      cfg.Generation.ResearchLimit,
	}
}

// Orchestrator 会话状态机的唯一持有者
type Orchestrator struct {
	prompts  PromptBuilder
	llm      llm.Completer
	research research.Searcher
	ledger   Ledger
	sessions *Registry
	locks    RunLock
	opts     Options
}

// NewOrchestrator 创建编排器；locks 为 nil 时只做进程内互斥
func NewOrchestrator(prompts PromptBuilder, completer llm.Completer, searcher research.Searcher, ledger Ledger, sessions *Registry, locks RunLock, opts Options) *Orchestrator {
	if opts.EnhanceConcurrency <= 0 {
		opts.EnhanceConcurrency = 1
	}
	if opts.ResearchLimit <= 0 {
		opts.ResearchLimit = 3
	}
	return &Orchestrator{
		prompts:  prompts,
		llm:      completer,
		research: searcher,
		ledger:   ledger,
		sessions: sessions,
		locks:    locks,
		opts:     opts,
	}
}

// TitlesResult 标题生成结果
type TitlesResult struct {
	SessionID string   `json:"session_id"`
	Titles    []string `json:"titles"`
}

// OutlineResult 大纲生成结果
type OutlineResult struct {
	SessionID string                  `json:"session_id"`
	Outline   []entity.OutlineSection `json:"outline"`
}

// run 一次状态机运行的上下文
type run struct {
	sess   *Session
	op     Operation
	ctx    context.Context
	start  time.Time
	unlock func()
}

// begin 校验入口、执行 prepare 并切换到运行阶段
//
// prepare 在会话锁内执行，返回错误时阶段保持不变，也不会扣费。
func (o *Orchestrator) begin(ctx context.Context, sess *Session, op Operation, prepare func(s *Session) error) (*run, error) {
	sess.mu.Lock()
	if err := CheckEntry(sess.stage, sess.failedAt, op); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	if prepare != nil {
		if err := prepare(sess); err != nil {
			sess.mu.Unlock()
			return nil, err
		}
	}
	prevStage, prevFailed := sess.stage, sess.failedAt
	sess.stage = op.runningStage()
	runCtx, cancel := context.WithCancel(ctx)
	sess.cancel = cancel
	sess.updatedAt = time.Now()
	sess.mu.Unlock()

	r := &run{sess: sess, op: op, start: time.Now(), unlock: func() {}}
	if o.locks != nil {
		release, err := o.locks.Acquire(runCtx, runLockKey(sess.userID, sess.id))
		if err != nil {
			cancel()
			sess.mu.Lock()
			sess.stage, sess.failedAt, sess.cancel = prevStage, prevFailed, nil
			sess.mu.Unlock()
			return nil, err
		}
		r.unlock = release
	}

	runCtx = logger.WithContext(runCtx, logger.SessionIDKey, sess.id)
	r.ctx = service.WithStage(runCtx, string(op))
	return r, nil
}

// end 根据结果落定阶段，返回原始错误
func (o *Orchestrator) end(r *run, err error) error {
	r.unlock()

	s := r.sess
	s.mu.Lock()
	failedAt := s.stage
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if err != nil {
		s.stage = entity.StageFailed
		s.failedAt = failedAt
		s.lastErr = userMessage(err)
	} else {
		s.stage = r.op.successStage()
		s.failedAt = ""
		s.lastErr = ""
	}
	s.updatedAt = time.Now()
	s.mu.Unlock()

	status := "success"
	if err != nil {
		status = "failed"
		logger.Error(r.ctx, "generation run failed", err, "operation", string(r.op), "failed_stage", string(failedAt))
	}
	metrics.GenerationRunsTotal.WithLabelValues(string(r.op), status).Inc()
	metrics.GenerationDuration.WithLabelValues(string(r.op)).Observe(time.Since(r.start).Seconds())
	return err
}

// GenerateTitles 生成候选标题，成功后回到 Idle
func (o *Orchestrator) GenerateTitles(ctx context.Context, userID, sessionID string, req entity.GenerationRequest) (*TitlesResult, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}
	sess := o.sessions.GetOrCreate(userID, sessionID)

	var p prompt.Prompt
	r, err := o.begin(ctx, sess, OpTitles, func(s *Session) error {
		var err error
		if p, err = o.prompts.Build(ctx, prompt.StageTitle, prompt.Input{Request: req}); err != nil {
			return err
		}
		s.request = mergeRequest(s.request, req)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var titles []string
	err = o.ledger.Run(r.ctx, userID, o.opts.Costs.Titles, "titles", "Generate titles: "+req.Topic, func(ctx context.Context) error {
		raw, err := o.llm.Complete(ctx, p.System, p.User, llm.NewParams(llm.MaxTokensShort))
		if err != nil {
			return err
		}
		titles = ParseTitles(raw, req.TitleCount)
		if len(titles) == 0 {
			return apperrors.ErrEmptyResponse.WithDetail("no titles could be parsed from the response")
		}
		return nil
	})
	if err == nil {
		sess.mu.Lock()
		sess.titles = titles
		sess.mu.Unlock()
	}
	if err := o.end(r, err); err != nil {
		return nil, err
	}
	return &TitlesResult{SessionID: sess.id, Titles: titles}, nil
}

// GenerateOutline 生成大纲并写回会话请求
func (o *Orchestrator) GenerateOutline(ctx context.Context, userID, sessionID string, req entity.GenerationRequest) (*OutlineResult, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}
	sess := o.sessions.GetOrCreate(userID, sessionID)

	var p prompt.Prompt
	r, err := o.begin(ctx, sess, OpOutline, func(s *Session) error {
		merged := mergeRequest(s.request, req)
		var err error
		if p, err = o.prompts.Build(ctx, prompt.StageOutline, prompt.Input{Request: merged}); err != nil {
			return err
		}
		s.request = merged
		return nil
	})
	if err != nil {
		return nil, err
	}

	var outline []entity.OutlineSection
	err = o.ledger.Run(r.ctx, userID, o.opts.Costs.Outline, "outline", "Generate outline: "+req.EffectiveTitle(), func(ctx context.Context) error {
		raw, err := o.llm.Complete(ctx, p.System, p.User, llm.NewParams(llm.MaxTokensOutline))
		if err != nil {
			return err
		}
		outline = ParseOutline(raw)
		if len(outline) == 0 {
			return apperrors.ErrEmptyResponse.WithDetail("no outline sections could be parsed from the response")
		}
		return nil
	})
	if err == nil {
		sess.mu.Lock()
		sess.request.Outline = outline
		sess.sections = nil
		sess.mu.Unlock()
	}
	if err := o.end(r, err); err != nil {
		return nil, err
	}
	return &OutlineResult{SessionID: sess.id, Outline: outline}, nil
}

// GenerateArticle 流式生成初稿，enhance 为 true 时在同一流内继续段落增强
//
// 事件按顺序写入 sink；返回错误时不会发送 error 事件，由调用方负责。
func (o *Orchestrator) GenerateArticle(ctx context.Context, userID, sessionID string, req *entity.GenerationRequest, enhance bool, sink Sink) error {
	if req != nil {
		if err := normalize(req); err != nil {
			return err
		}
	}
	sess := o.sessions.GetOrCreate(userID, sessionID)

	var (
		p       prompt.Prompt
		request entity.GenerationRequest
	)
	r, err := o.begin(ctx, sess, OpArticle, func(s *Session) error {
		merged := s.request.Clone()
		if req != nil {
			merged = mergeRequest(merged, *req)
		}
		var err error
		if p, err = o.prompts.Build(ctx, prompt.StageDraft, prompt.Input{Request: merged}); err != nil {
			return err
		}
		s.request = merged
		s.draft, s.article, s.sections = "", "", nil
		request = merged.Clone()
		return nil
	})
	if err != nil {
		return err
	}

	return o.end(r, o.runArticle(r, userID, request, p, enhance, sink))
}

func (o *Orchestrator) runArticle(r *run, userID string, req entity.GenerationRequest, p prompt.Prompt, enhance bool, sink Sink) error {
	ctx := r.ctx
	var draft string
	err := o.ledger.Run(ctx, userID, o.opts.Costs.Article, "article", "Generate article: "+req.EffectiveTitle(), func(ctx context.Context) error {
		if err := send(ctx, sink, statusEvent(PhaseDrafting, "Writing the first draft", 0)); err != nil {
			return err
		}
		var err error
		draft, err = o.streamText(ctx, p, llm.MaxTokensDraft, func(delta string) error {
			return send(ctx, sink, contentEvent(DraftSectionIndex, delta, "streaming"))
		})
		return err
	})
	if err != nil {
		return err
	}

	r.sess.mu.Lock()
	r.sess.draft = draft
	r.sess.updatedAt = time.Now()
	r.sess.mu.Unlock()

	content := draft
	if enhance {
		r.sess.mu.Lock()
		r.sess.stage = entity.StageEnhancing
		r.sess.sections = entity.NewSectionStates(req.Outline)
		r.sess.mu.Unlock()

		if content, err = o.enhanceSections(service.WithStage(ctx, string(OpEnhance)), r.sess, userID, req, draft, sink); err != nil {
			return err
		}
	}
	return o.complete(ctx, r.sess, content, sink)
}

// Enhance 对已完成或增强失败的会话重新执行段落增强
func (o *Orchestrator) Enhance(ctx context.Context, userID, sessionID string, sink Sink) error {
	sess, err := o.sessions.Get(userID, sessionID)
	if err != nil {
		return err
	}

	var (
		request entity.GenerationRequest
		draft   string
	)
	r, err := o.begin(ctx, sess, OpEnhance, func(s *Session) error {
		if len(s.request.Outline) == 0 {
			return apperrors.ErrMissingRequiredField.WithDetail("outline is required")
		}
		request = s.request.Clone()
		draft = s.draft
		s.sections = entity.NewSectionStates(request.Outline)
		return nil
	})
	if err != nil {
		return err
	}

	content, err := o.enhanceSections(r.ctx, sess, userID, request, draft, sink)
	if err == nil {
		err = o.complete(r.ctx, sess, content, sink)
	}
	return o.end(r, err)
}

func (o *Orchestrator) complete(ctx context.Context, sess *Session, content string, sink Sink) error {
	ev := completeEvent(content)
	if err := send(ctx, sink, ev); err != nil {
		return err
	}
	sess.mu.Lock()
	sess.article = content
	sess.mu.Unlock()
	metrics.ArticleWordCount.Observe(float64(ev.WordCount))
	return nil
}

// GenerateKeywords 单次生成关键词，不影响会话状态
func (o *Orchestrator) GenerateKeywords(ctx context.Context, userID string, req entity.GenerationRequest) ([]string, error) {
	return o.generateList(ctx, userID, req, prompt.StageKeywords, o.opts.Costs.Keywords, "keywords", ParseKeywords)
}

// GenerateAudience 单次生成目标读者候选
func (o *Orchestrator) GenerateAudience(ctx context.Context, userID string, req entity.GenerationRequest) ([]string, error) {
	return o.generateList(ctx, userID, req, prompt.StageAudience, o.opts.Costs.Audience, "audience", func(raw string) []string {
		return ParseList(raw, 0)
	})
}

func (o *Orchestrator) generateList(ctx context.Context, userID string, req entity.GenerationRequest, stage prompt.Stage, cost int, tool string, parse func(string) []string) ([]string, error) {
	if err := normalize(&req); err != nil {
		return nil, err
	}
	ctx = service.WithStage(ctx, string(stage))
	p, err := o.prompts.Build(ctx, stage, prompt.Input{Request: req})
	if err != nil {
		return nil, err
	}

	var items []string
	err = o.ledger.Run(ctx, userID, cost, tool, fmt.Sprintf("Generate %s: %s", tool, req.Topic), func(ctx context.Context) error {
		raw, err := o.llm.Complete(ctx, p.System, p.User, llm.NewParams(llm.MaxTokensShort))
		if err != nil {
			return err
		}
		if items = parse(raw); len(items) == 0 {
			return apperrors.ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Snapshot 返回会话快照
func (o *Orchestrator) Snapshot(userID, sessionID string) (Snapshot, error) {
	sess, err := o.sessions.Get(userID, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// CheckCredits 开流前按操作的最低成本检查余额，不扣费
//
// 增强至少需要一次调研的积分。
func (o *Orchestrator) CheckCredits(ctx context.Context, userID string, op Operation) error {
	var cost int
	switch op {
	case OpArticle:
		cost = o.opts.Costs.Article
	case OpEnhance:
		cost = o.opts.Costs.Research
	}
	return o.ledger.Precheck(ctx, userID, cost)
}

// UpdateRequest 整体替换会话请求
func (o *Orchestrator) UpdateRequest(userID, sessionID string, req entity.GenerationRequest) (Snapshot, error) {
	if err := normalize(&req); err != nil {
		return Snapshot{}, err
	}
	sess := o.sessions.GetOrCreate(userID, sessionID)
	return sess.mutate(func(cur *entity.GenerationRequest) error {
		*cur = req
		return nil
	})
}

// ReplaceSection 按 ID 替换大纲段落
func (o *Orchestrator) ReplaceSection(userID, sessionID, sectionID string, section entity.OutlineSection) (Snapshot, error) {
	if strings.TrimSpace(section.Title) == "" {
		return Snapshot{}, apperrors.ErrMissingRequiredField.WithDetail("section title is required")
	}
	sess, err := o.sessions.Get(userID, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.mutate(func(req *entity.GenerationRequest) error {
		if err := req.ReplaceSection(sectionID, section); err != nil {
			return apperrors.ErrNotFound.WithDetail(err.Error())
		}
		return nil
	})
}

// AddSection 在 position 处插入段落
func (o *Orchestrator) AddSection(userID, sessionID string, section entity.OutlineSection, position int) (Snapshot, error) {
	if strings.TrimSpace(section.Title) == "" {
		return Snapshot{}, apperrors.ErrMissingRequiredField.WithDetail("section title is required")
	}
	sess, err := o.sessions.Get(userID, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.mutate(func(req *entity.GenerationRequest) error {
		req.AddSection(section, position)
		return nil
	})
}

// DeleteSection 按 ID 删除段落
func (o *Orchestrator) DeleteSection(userID, sessionID, sectionID string) (Snapshot, error) {
	sess, err := o.sessions.Get(userID, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.mutate(func(req *entity.GenerationRequest) error {
		if err := req.DeleteSection(sectionID); err != nil {
			return apperrors.ErrNotFound.WithDetail(err.Error())
		}
		return nil
	})
}

// Cancel 取消进行中的运行，返回是否有运行被取消
func (o *Orchestrator) Cancel(userID, sessionID string) (bool, error) {
	sess, err := o.sessions.Get(userID, sessionID)
	if err != nil {
		return false, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.cancel == nil {
		return false, nil
	}
	sess.cancel()
	return true, nil
}

// Reset 清空生成结果回到 Idle，保留请求
func (o *Orchestrator) Reset(userID, sessionID string) (Snapshot, error) {
	sess, err := o.sessions.Get(userID, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.stage.Running() {
		return Snapshot{}, apperrors.ErrAlreadyGenerating
	}
	sess.stage, sess.failedAt, sess.lastErr = entity.StageIdle, "", ""
	sess.titles, sess.sections = nil, nil
	sess.draft, sess.article = "", ""
	sess.updatedAt = time.Now()
	return sess.snapshotLocked(), nil
}

// Remove 取消并删除会话
func (o *Orchestrator) Remove(userID, sessionID string) error {
	if !o.sessions.Remove(userID, sessionID) {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

// streamText 读取模型流，逐段回调 onDelta，返回完整文本
func (o *Orchestrator) streamText(ctx context.Context, p prompt.Prompt, maxTokens int, onDelta func(string) error) (string, error) {
	stream, err := o.llm.Stream(ctx, p.System, p.User, llm.NewParams(maxTokens))
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", apperrors.ErrEmptyResponse
	}
	return sb.String(), nil
}

// sinkError 事件无法送达，运行必须中止
type sinkError struct{ err error }

func (e *sinkError) Error() string { return "send event: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

func send(ctx context.Context, sink Sink, ev Event) error {
	if err := sink.Send(ctx, ev); err != nil {
		return &sinkError{err: err}
	}
	return nil
}

func normalize(req *entity.GenerationRequest) error {
	if err := req.Normalize(); err != nil {
		return apperrors.ErrInvalidInput.WithDetail(err.Error())
	}
	return nil
}

// mergeRequest 用 in 中的非空字段覆盖 cur
func mergeRequest(cur, in entity.GenerationRequest) entity.GenerationRequest {
	out := cur.Clone()
	if in.Topic != "" {
		out.Topic = in.Topic
	}
	if len(in.Keywords) > 0 {
		out.Keywords = append([]string(nil), in.Keywords...)
	}
	if in.Audience != "" {
		out.Audience = in.Audience
	}
	if in.Tone != "" {
		out.Tone = in.Tone
	}
	if in.TitleCount != 0 {
		out.TitleCount = in.TitleCount
	}
	if in.Title != "" {
		out.Title = in.Title
	}
	if len(in.Outline) > 0 {
		out.Outline = append([]entity.OutlineSection(nil), in.Outline...)
	}
	return out
}

func userMessage(err error) string {
	if !apperrors.IsAppError(err) && errors.Is(err, context.Canceled) {
		return "generation cancelled"
	}
	return apperrors.AsAppError(err).Message
}
