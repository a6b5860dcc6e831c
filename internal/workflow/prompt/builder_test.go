package prompt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"articleforge-api/internal/domain/entity"
	apperrors "articleforge-api/pkg/errors"
)

func sampleRequest() entity.GenerationRequest {
	return entity.GenerationRequest{
		Topic:      "Go concurrency",
		Keywords:   []string{"goroutines", "channels"},
		Audience:   "backend engineers",
		Tone:       entity.ToneTechnical,
		TitleCount: 3,
		Title:      "Mastering Go Concurrency",
		Outline: []entity.OutlineSection{
			{ID: "s1", Title: "Why goroutines", Content: "cheap threads"},
			{ID: "s2", Title: "Channels in practice"},
		},
	}
}

func TestBuildTitleEmbedsBrief(t *testing.T) {
	p, err := NewBuilder().Build(context.Background(), StageTitle, Input{Request: sampleRequest()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, want := range []string{"Go concurrency", "goroutines, channels", "backend engineers", "Number of titles: 3"} {
		if !strings.Contains(p.User, want) {
			t.Fatalf("user prompt missing %q:\n%s", want, p.User)
		}
	}
	if !strings.Contains(p.System, "exactly 3 distinct") {
		t.Fatalf("system prompt should carry the count:\n%s", p.System)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewBuilder()
	in := Input{Request: sampleRequest()}
	first, err := b.Build(context.Background(), StageDraft, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := NewBuilder().Build(context.Background(), StageDraft, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if first != second {
		t.Fatalf("same input rendered differently")
	}
}

func TestBuildDraftNumbersOutline(t *testing.T) {
	p, err := NewBuilder().Build(context.Background(), StageDraft, Input{Request: sampleRequest()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.User, "1. Why goroutines - cheap threads\n2. Channels in practice") {
		t.Fatalf("outline not rendered:\n%s", p.User)
	}
	if !strings.Contains(p.System, "# Title") {
		t.Fatalf("draft prompt must ask for the title heading")
	}
}

func TestBuildOutlineFallsBackToTopic(t *testing.T) {
	req := sampleRequest()
	req.Title = ""
	p, err := NewBuilder().Build(context.Background(), StageOutline, Input{Request: req})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.User, "Article title: Go concurrency") {
		t.Fatalf("outline should use topic as title:\n%s", p.User)
	}
}

func TestBuildMissingFields(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()

	cases := []struct {
		name  string
		stage Stage
		in    Input
	}{
		{"title without topic", StageTitle, Input{}},
		{"keywords without topic", StageKeywords, Input{}},
		{"outline without topic", StageOutline, Input{Request: entity.GenerationRequest{Title: "Go"}}},
		{"draft without topic", StageDraft, Input{Request: entity.GenerationRequest{
			Title:   "Go",
			Outline: []entity.OutlineSection{{ID: "s1", Title: "Intro"}},
		}}},
		{"draft without outline", StageDraft, Input{Request: entity.GenerationRequest{Topic: "x"}}},
		{"enhance without section", StageEnhance, Input{Request: sampleRequest()}},
		{"query without section", StageResearchQuery, Input{Request: sampleRequest()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := b.Build(ctx, tc.stage, tc.in)
			if !errors.Is(err, apperrors.ErrMissingRequiredField) {
				t.Fatalf("err = %v, want missing required field", err)
			}
		})
	}
}

func TestBuildUnknownStage(t *testing.T) {
	_, err := NewBuilder().Build(context.Background(), Stage("poem"), Input{Request: sampleRequest()})
	if !errors.Is(err, apperrors.ErrInvalidStage) {
		t.Fatalf("err = %v, want invalid stage", err)
	}
}

func TestBuildResearchQuery(t *testing.T) {
	req := sampleRequest()
	section := req.Outline[1]
	p, err := NewBuilder().Build(context.Background(), StageResearchQuery, Input{Request: req, Section: &section})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if p.System != "" {
		t.Fatalf("research query has no system prompt")
	}
	if p.User != "Channels in practice Go concurrency goroutines" {
		t.Fatalf("query = %q", p.User)
	}
}

func TestBuildEnhanceIncludesFindings(t *testing.T) {
	req := sampleRequest()
	section := req.Outline[0]
	p, err := NewBuilder().Build(context.Background(), StageEnhance, Input{
		Request:  req,
		Section:  &section,
		Findings: []string{"Goroutines start with a 2KB stack.", "  "},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.User, "[1] Goroutines start with a 2KB stack.") || strings.Contains(p.User, "[2]") {
		t.Fatalf("findings not rendered:\n%s", p.User)
	}
	if !strings.Contains(p.User, "Section heading: Why goroutines") {
		t.Fatalf("section missing:\n%s", p.User)
	}
}

func TestBuildEnhanceWithoutFindings(t *testing.T) {
	req := sampleRequest()
	section := req.Outline[1]
	p, err := NewBuilder().Build(context.Background(), StageEnhance, Input{Request: req, Section: &section})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(p.User, noFindings) || !strings.Contains(p.User, "(no brief)") {
		t.Fatalf("unexpected enhance prompt:\n%s", p.User)
	}
}
