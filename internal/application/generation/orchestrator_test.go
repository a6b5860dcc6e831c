package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"articleforge-api/internal/application/credit"
	"articleforge-api/internal/config"
	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/infrastructure/llm"
	"articleforge-api/internal/infrastructure/persistence/memory"
	"articleforge-api/internal/workflow/prompt"
	apperrors "articleforge-api/pkg/errors"
)

const testUser = "user-1"

type sliceStream struct {
	ctx    context.Context
	gate   <-chan struct{}
	chunks []string
	i      int
}

func (s *sliceStream) Recv() (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
			s.gate = nil
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.i >= len(s.chunks) {
		return "", io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *sliceStream) Close() {}

// fakeLLM 按用户提示词区分初稿与段落重写
type fakeLLM struct {
	completion string
	draft      []string
	gate       chan struct{}
}

func (f *fakeLLM) Complete(_ context.Context, _, _ string, _ llm.Params) (string, error) {
	return f.completion, nil
}

func (f *fakeLLM) Stream(ctx context.Context, _, user string, _ llm.Params) (llm.ChunkStream, error) {
	if heading, ok := lineValue(user, "Section heading: "); ok {
		return &sliceStream{ctx: ctx, chunks: []string{"## " + heading + "\n\n", "Enhanced body."}}, nil
	}
	return &sliceStream{ctx: ctx, gate: f.gate, chunks: f.draft}, nil
}

func lineValue(text, prefix string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix), true
		}
	}
	return "", false
}

// fakeSearcher 查询包含 failOn 时返回错误，包含 slowOn 时延迟返回
type fakeSearcher struct {
	failOn string
	slowOn string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]string, error) {
	if f.slowOn != "" && strings.Contains(query, f.slowOn) {
		time.Sleep(50 * time.Millisecond)
	}
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, apperrors.ErrProviderUnavailable
	}
	return []string{"finding for " + query}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Send(_ context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func newTestOrchestrator(t *testing.T, model *fakeLLM, searcher *fakeSearcher, concurrency, balance int) (*Orchestrator, *credit.Ledger) {
	t.Helper()
	store := memory.NewStore()
	p := entity.NewProfile(testUser, "u@example.com")
	p.Credits = balance
	if _, err := store.Profiles().EnsureCreated(context.Background(), p); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	ledger := credit.NewLedger(store, store.Profiles(), store.CreditTransactions(), credit.Config{})

	opts := Options{
		Costs:              config.CreditCosts{Titles: 1, Outline: 1, Article: 5, Research: 1, Keywords: 1, Audience: 1},
		EnhanceConcurrency: concurrency,
		ResearchLimit:      3,
	}
	if searcher == nil {
		searcher = &fakeSearcher{}
	}
	return NewOrchestrator(prompt.NewBuilder(), model, searcher, ledger, NewRegistry(time.Hour), nil, opts), ledger
}

func threeSectionRequest() *entity.GenerationRequest {
	return &entity.GenerationRequest{
		Topic:    "Go concurrency",
		Keywords: []string{"goroutines"},
		Title:    "Mastering Go Concurrency",
		Outline: []entity.OutlineSection{
			{ID: "s1", Title: "First Part", Content: "basics"},
			{ID: "s2", Title: "Second Part", Content: "channels"},
			{ID: "s3", Title: "Third Part", Content: "patterns"},
		},
	}
}

func balanceOf(t *testing.T, l *credit.Ledger) int {
	t.Helper()
	b, err := l.Balance(context.Background(), testUser)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func TestGenerateTitlesReturnsExactlyCount(t *testing.T) {
	orch, ledger := newTestOrchestrator(t, &fakeLLM{completion: "Alpha Title, Beta Title, Gamma Title"}, nil, 1, 10)

	res, err := orch.GenerateTitles(context.Background(), testUser, "", entity.GenerationRequest{Topic: "Go", TitleCount: 3})
	if err != nil {
		t.Fatalf("GenerateTitles: %v", err)
	}
	if len(res.Titles) != 3 {
		t.Fatalf("titles = %q, want 3", res.Titles)
	}
	seen := map[string]bool{}
	for _, title := range res.Titles {
		if title == "" || seen[title] {
			t.Fatalf("titles must be distinct and non-empty: %q", res.Titles)
		}
		seen[title] = true
	}
	if got := balanceOf(t, ledger); got != 9 {
		t.Fatalf("balance = %d, want 9", got)
	}

	snap, err := orch.Snapshot(testUser, res.SessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Stage != entity.StageIdle || len(snap.Titles) != 3 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGenerateTitlesEmptyResponseFailsSession(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeLLM{completion: "  \n "}, nil, 1, 10)

	_, err := orch.GenerateTitles(context.Background(), testUser, "sid", entity.GenerationRequest{Topic: "Go"})
	if !errors.Is(err, apperrors.ErrEmptyResponse) {
		t.Fatalf("err = %v, want empty response", err)
	}
	snap, _ := orch.Snapshot(testUser, "sid")
	if snap.Stage != entity.StageFailed || snap.FailedAt != entity.StageGeneratingTitles {
		t.Fatalf("stage = %s failed at %s", snap.Stage, snap.FailedAt)
	}
}

func TestGenerateOutlineStoresSections(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeLLM{completion: "1. Intro - Why\n2. Body - How\n"}, nil, 1, 10)

	res, err := orch.GenerateOutline(context.Background(), testUser, "", entity.GenerationRequest{Topic: "Go", Title: "Go Rocks"})
	if err != nil {
		t.Fatalf("GenerateOutline: %v", err)
	}
	if len(res.Outline) != 2 || res.Outline[1].Title != "Body" {
		t.Fatalf("outline = %+v", res.Outline)
	}
	snap, _ := orch.Snapshot(testUser, res.SessionID)
	if len(snap.Request.Outline) != 2 || snap.Request.Title != "Go Rocks" {
		t.Fatalf("request = %+v", snap.Request)
	}
}

func TestInvalidInputIsNotCharged(t *testing.T) {
	orch, ledger := newTestOrchestrator(t, &fakeLLM{}, nil, 1, 10)
	log := &eventLog{}

	err := orch.GenerateArticle(context.Background(), testUser, "sid", &entity.GenerationRequest{Topic: "Go"}, false, log)
	if !errors.Is(err, apperrors.ErrMissingRequiredField) {
		t.Fatalf("err = %v, want missing field", err)
	}
	if got := balanceOf(t, ledger); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	if n := len(log.all()); n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
	snap, _ := orch.Snapshot(testUser, "sid")
	if snap.Stage != entity.StageIdle {
		t.Fatalf("stage = %s, want idle", snap.Stage)
	}
}

func TestBlankSectionTitleRejectedBeforeRun(t *testing.T) {
	orch, ledger := newTestOrchestrator(t, &fakeLLM{draft: []string{"A"}}, nil, 1, 20)
	log := &eventLog{}
	req := threeSectionRequest()
	req.Outline[1].Title = "   "

	err := orch.GenerateArticle(context.Background(), testUser, "sid", req, true, log)
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
	if n := len(log.all()); n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
	if got := balanceOf(t, ledger); got != 20 {
		t.Fatalf("balance = %d, want 20", got)
	}

	bad := threeSectionRequest()
	bad.Outline[2].Title = ""
	if _, err := orch.UpdateRequest(testUser, "sid2", *bad); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("UpdateRequest err = %v, want invalid input", err)
	}
}

func TestGenerateArticleStreamsDeltas(t *testing.T) {
	orch, ledger := newTestOrchestrator(t, &fakeLLM{draft: []string{"A", "B", "C"}}, nil, 1, 10)
	log := &eventLog{}

	if err := orch.GenerateArticle(context.Background(), testUser, "sid", threeSectionRequest(), false, log); err != nil {
		t.Fatalf("GenerateArticle: %v", err)
	}

	events := log.all()
	if events[0].Type != EventStatus || events[0].Phase != PhaseDrafting || events[0].Progress != 0 {
		t.Fatalf("first event = %+v", events[0])
	}
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == EventContent && ev.SectionIndex == DraftSectionIndex {
			sb.WriteString(ev.Content)
		}
	}
	if sb.String() != "ABC" {
		t.Fatalf("concatenated = %q, want ABC", sb.String())
	}
	last := events[len(events)-1]
	if last.Type != EventComplete || last.Progress != 100 || last.Content != "ABC" || last.WordCount != 1 {
		t.Fatalf("last event = %+v", last)
	}
	if got := balanceOf(t, ledger); got != 5 {
		t.Fatalf("balance = %d, want 5", got)
	}
	snap, _ := orch.Snapshot(testUser, "sid")
	if snap.Stage != entity.StageComplete || snap.Draft != "ABC" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGenerateArticleInsufficientCredits(t *testing.T) {
	orch, ledger := newTestOrchestrator(t, &fakeLLM{draft: []string{"A"}}, nil, 1, 3)
	log := &eventLog{}

	err := orch.GenerateArticle(context.Background(), testUser, "sid", threeSectionRequest(), false, log)
	if !errors.Is(err, apperrors.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want insufficient credits", err)
	}
	if n := len(log.all()); n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
	if got := balanceOf(t, ledger); got != 3 {
		t.Fatalf("balance = %d, want 3", got)
	}
}

func TestEntryRulesThroughOrchestrator(t *testing.T) {
	model := &fakeLLM{draft: []string{"A"}, gate: make(chan struct{}), completion: "x"}
	orch, _ := newTestOrchestrator(t, model, nil, 1, 50)
	ctx := context.Background()

	if err := orch.Enhance(ctx, testUser, "missing", &eventLog{}); !errors.Is(err, apperrors.ErrSessionNotFound) {
		t.Fatalf("enhance unknown session: %v", err)
	}
	if _, err := orch.UpdateRequest(testUser, "sid", *threeSectionRequest()); err != nil {
		t.Fatalf("UpdateRequest: %v", err)
	}
	if err := orch.Enhance(ctx, testUser, "sid", &eventLog{}); !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("enhance from idle: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- orch.GenerateArticle(ctx, testUser, "sid", nil, false, &eventLog{})
	}()
	waitForStage(t, orch, "sid", entity.StageGeneratingDraft)

	if _, err := orch.GenerateTitles(ctx, testUser, "sid", entity.GenerationRequest{Topic: "Go"}); !errors.Is(err, apperrors.ErrAlreadyGenerating) {
		t.Fatalf("titles while drafting: %v", err)
	}
	if _, err := orch.AddSection(testUser, "sid", entity.OutlineSection{Title: "Extra"}, -1); !errors.Is(err, apperrors.ErrAlreadyGenerating) {
		t.Fatalf("edit while drafting: %v", err)
	}

	close(model.gate)
	if err := <-done; err != nil {
		t.Fatalf("GenerateArticle: %v", err)
	}
	snap, _ := orch.Snapshot(testUser, "sid")
	if snap.Stage != entity.StageComplete {
		t.Fatalf("stage = %s, want complete", snap.Stage)
	}
}

func TestCancelFailsRun(t *testing.T) {
	model := &fakeLLM{draft: []string{"A"}, gate: make(chan struct{})}
	orch, _ := newTestOrchestrator(t, model, nil, 1, 50)

	done := make(chan error, 1)
	go func() {
		done <- orch.GenerateArticle(context.Background(), testUser, "sid", threeSectionRequest(), false, &eventLog{})
	}()
	waitForStage(t, orch, "sid", entity.StageGeneratingDraft)

	cancelled, err := orch.Cancel(testUser, "sid")
	if err != nil || !cancelled {
		t.Fatalf("Cancel = %v, %v", cancelled, err)
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	snap, _ := orch.Snapshot(testUser, "sid")
	if snap.Stage != entity.StageFailed {
		t.Fatalf("stage = %s, want failed", snap.Stage)
	}
	if snap, err = orch.Reset(testUser, "sid"); err != nil || snap.Stage != entity.StageIdle {
		t.Fatalf("Reset = %+v, %v", snap, err)
	}
}

func waitForStage(t *testing.T, orch *Orchestrator, sid string, stage entity.GenerationStage) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, err := orch.Snapshot(testUser, sid); err == nil && snap.Stage == stage {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached %s", stage)
}

func TestEnhanceSectionFailureContinues(t *testing.T) {
	for _, tc := range []struct {
		name        string
		concurrency int
	}{
		{"sequential", 1},
		{"parallel", 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			draft := []string{"# Mastering Go Concurrency\n\n", "## First Part\nd1\n\n", "## Second Part\nd2\n\n", "## Third Part\nd3\n"}
			searcher := &fakeSearcher{failOn: "Second", slowOn: "First"}
			orch, ledger := newTestOrchestrator(t, &fakeLLM{draft: draft}, searcher, tc.concurrency, 100)
			log := &eventLog{}

			if err := orch.GenerateArticle(context.Background(), testUser, "sid", threeSectionRequest(), true, log); err != nil {
				t.Fatalf("GenerateArticle: %v", err)
			}

			snap, _ := orch.Snapshot(testUser, "sid")
			if snap.Stage != entity.StageComplete {
				t.Fatalf("stage = %s, want complete", snap.Stage)
			}
			want := []entity.SectionStatus{entity.SectionComplete, entity.SectionError, entity.SectionComplete}
			for i, s := range snap.Sections {
				if s.Status != want[i] {
					t.Fatalf("section %d status = %s, want %s", i, s.Status, want[i])
				}
			}
			// 初稿 5 + 三次调研各 1
			if got := balanceOf(t, ledger); got != 92 {
				t.Fatalf("balance = %d, want 92", got)
			}

			events := log.all()
			lastIdx := DraftSectionIndex
			lastProgress := 0
			for _, ev := range events {
				if ev.Type == EventContent {
					if ev.SectionIndex < lastIdx {
						t.Fatalf("content for section %d after section %d", ev.SectionIndex, lastIdx)
					}
					lastIdx = ev.SectionIndex
				}
				if ev.Type == EventStatus && ev.Phase != PhaseDrafting && ev.Phase != PhaseEnhancing {
					if ev.Progress < lastProgress {
						t.Fatalf("progress went backwards: %d after %d", ev.Progress, lastProgress)
					}
					lastProgress = ev.Progress
				}
			}

			last := events[len(events)-1]
			if last.Type != EventComplete || last.Progress != 100 {
				t.Fatalf("last event = %+v", last)
			}
			if !strings.HasPrefix(last.Content, "# Mastering Go Concurrency") {
				t.Fatalf("article = %q", last.Content)
			}
			if !strings.Contains(last.Content, "## First Part\n\nEnhanced body.") || !strings.Contains(last.Content, "## Second Part\nd2") {
				t.Fatalf("article = %q", last.Content)
			}

			partial := false
			for _, ev := range events {
				if ev.Type == EventStatus && ev.Phase == PhasePartialFailure {
					partial = true
				}
			}
			if !partial {
				t.Fatalf("missing partial-failure status")
			}
		})
	}
}

func TestEnhanceAllSectionsFailing(t *testing.T) {
	searcher := &fakeSearcher{failOn: "Part"}
	orch, _ := newTestOrchestrator(t, &fakeLLM{draft: []string{"draft"}}, searcher, 2, 100)

	err := orch.GenerateArticle(context.Background(), testUser, "sid", threeSectionRequest(), true, &eventLog{})
	if !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want provider unavailable", err)
	}
	snap, _ := orch.Snapshot(testUser, "sid")
	if snap.Stage != entity.StageFailed || snap.FailedAt != entity.StageEnhancing {
		t.Fatalf("stage = %s failed at %s", snap.Stage, snap.FailedAt)
	}

	// 增强失败后允许单独重试增强
	searcher.failOn = ""
	log := &eventLog{}
	if err := orch.Enhance(context.Background(), testUser, "sid", log); err != nil {
		t.Fatalf("retry Enhance: %v", err)
	}
	events := log.all()
	if last := events[len(events)-1]; last.Type != EventComplete {
		t.Fatalf("last event = %+v", last)
	}
}

func TestEnhanceAbortsOnInsufficientCredits(t *testing.T) {
	// 余额只够初稿与一次调研
	orch, _ := newTestOrchestrator(t, &fakeLLM{draft: []string{"draft"}}, nil, 1, 6)

	err := orch.GenerateArticle(context.Background(), testUser, "sid", threeSectionRequest(), true, &eventLog{})
	if !errors.Is(err, apperrors.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want insufficient credits", err)
	}
	snap, _ := orch.Snapshot(testUser, "sid")
	if snap.Stage != entity.StageFailed || snap.FailedAt != entity.StageEnhancing {
		t.Fatalf("stage = %s failed at %s", snap.Stage, snap.FailedAt)
	}
}

func TestKeywordsAreStateless(t *testing.T) {
	orch, ledger := newTestOrchestrator(t, &fakeLLM{completion: "go, concurrency, channels"}, nil, 1, 5)

	kws, err := orch.GenerateKeywords(context.Background(), testUser, entity.GenerationRequest{Topic: "Go"})
	if err != nil {
		t.Fatalf("GenerateKeywords: %v", err)
	}
	if len(kws) != 3 {
		t.Fatalf("keywords = %q", kws)
	}
	if got := balanceOf(t, ledger); got != 4 {
		t.Fatalf("balance = %d, want 4", got)
	}
	if orch.sessions.Len() != 0 {
		t.Fatalf("keywords must not create sessions")
	}
}

func TestReorderBufferOrdersOutOfOrderSections(t *testing.T) {
	log := &eventLog{}
	buf := newReorderBuffer(log, 3)
	ctx := context.Background()

	_ = buf.emit(ctx, 2, contentEvent(2, "c", "writing"))
	_ = buf.emit(ctx, 1, contentEvent(1, "b", "writing"))
	_ = buf.finish(ctx, 2, statusEvent(PhaseSectionDone, "2", 0))
	_ = buf.finish(ctx, 1, statusEvent(PhaseSectionDone, "1", 0))
	if n := len(log.all()); n != 0 {
		t.Fatalf("events sent before section 0: %d", n)
	}
	_ = buf.emit(ctx, 0, contentEvent(0, "a", "writing"))
	_ = buf.finish(ctx, 0, statusEvent(PhaseSectionDone, "0", 0))

	var order []string
	var progress []int
	for _, ev := range log.all() {
		if ev.Type == EventContent {
			order = append(order, ev.Content)
		} else {
			progress = append(progress, ev.Progress)
		}
	}
	if strings.Join(order, "") != "abc" {
		t.Fatalf("content order = %q", order)
	}
	if len(progress) != 3 || progress[0] != 33 || progress[1] != 66 || progress[2] != 100 {
		t.Fatalf("progress = %v", progress)
	}
}
