package entity

import "testing"

func TestNormalizeClampsTitleCountAndDefaultsTone(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, DefaultTitleCount},
		{-3, 1},
		{1, 1},
		{10, 10},
		{42, 10},
	}
	for _, tc := range cases {
		req := GenerationRequest{Topic: "go", TitleCount: tc.in}
		if err := req.Normalize(); err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if req.TitleCount != tc.want {
			t.Fatalf("titleCount %d -> %d, want %d", tc.in, req.TitleCount, tc.want)
		}
		if req.Tone != ToneProfessional {
			t.Fatalf("tone = %q, want professional", req.Tone)
		}
	}
}

func TestNormalizeRejectsUnknownTone(t *testing.T) {
	req := GenerationRequest{Topic: "go", Tone: "sarcastic"}
	if err := req.Normalize(); err == nil {
		t.Fatalf("expected error for unknown tone")
	}
}

func TestOutlineEditsByID(t *testing.T) {
	req := GenerationRequest{Outline: []OutlineSection{
		{ID: "a", Title: "Intro"},
		{ID: "b", Title: "Body"},
	}}

	if err := req.ReplaceSection("b", OutlineSection{ID: "ignored", Title: "Details"}); err != nil {
		t.Fatalf("ReplaceSection: %v", err)
	}
	if req.Outline[1].ID != "b" || req.Outline[1].Title != "Details" {
		t.Fatalf("replace kept wrong section: %+v", req.Outline[1])
	}

	added := req.AddSection(OutlineSection{Title: "Conclusion"}, -1)
	if added.ID == "" || req.Outline[2].Title != "Conclusion" {
		t.Fatalf("AddSection appended %+v", req.Outline)
	}

	if err := req.DeleteSection("a"); err != nil {
		t.Fatalf("DeleteSection: %v", err)
	}
	if len(req.Outline) != 2 || req.Outline[0].ID != "b" {
		t.Fatalf("delete left %+v", req.Outline)
	}
	if err := req.DeleteSection("missing"); err == nil {
		t.Fatalf("expected error deleting unknown id")
	}
}

func TestSectionStatusTransitions(t *testing.T) {
	if !SectionPending.CanAdvanceTo(SectionResearching) || !SectionResearching.CanAdvanceTo(SectionWriting) ||
		!SectionWriting.CanAdvanceTo(SectionComplete) {
		t.Fatalf("forward chain rejected")
	}
	if SectionPending.CanAdvanceTo(SectionError) {
		t.Fatalf("pending must not jump to error")
	}
	if !SectionWriting.CanAdvanceTo(SectionError) || !SectionResearching.CanAdvanceTo(SectionError) {
		t.Fatalf("error must be reachable from researching and writing")
	}
	if SectionComplete.CanAdvanceTo(SectionWriting) {
		t.Fatalf("complete must be terminal")
	}
}

func TestReadingMinutes(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 200: 1, 201: 2, 400: 2, 401: 3}
	for words, want := range cases {
		if got := ReadingMinutes(words); got != want {
			t.Fatalf("ReadingMinutes(%d) = %d, want %d", words, got, want)
		}
	}
}

func TestNormalizeKeywordsDedupesCaseInsensitively(t *testing.T) {
	got := NormalizeKeywords([]string{" SEO ", "seo", "", "Content", "content marketing"})
	want := []string{"SEO", "Content", "content marketing"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNormalizeRejectsBlankSectionTitle(t *testing.T) {
	req := GenerationRequest{Topic: "go", Outline: []OutlineSection{
		{Title: " Intro "},
		{Title: "   "},
	}}
	if err := req.Normalize(); err == nil {
		t.Fatalf("expected error for blank section title")
	}
	if req.Outline[0].Title != "Intro" {
		t.Fatalf("title not trimmed: %q", req.Outline[0].Title)
	}
}
