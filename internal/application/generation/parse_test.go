package generation

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseTitlesCommaSeparated(t *testing.T) {
	got := ParseTitles("Go in Production, Scaling Go Services, Go Concurrency Patterns", 3)
	want := []string{"Go in Production", "Scaling Go Services", "Go Concurrency Patterns"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("titles = %q, want %q", got, want)
	}
}

func TestParseTitlesStripsMarkersAndDedupes(t *testing.T) {
	raw := "1. \"Why Go Wins\"\n2) **Why Go Wins**\n- Title: Shipping Fast with Go\n\n• 'Goroutines Explained'\n"
	got := ParseTitles(raw, 10)
	want := []string{"Why Go Wins", "Shipping Fast with Go", "Goroutines Explained"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("titles = %q, want %q", got, want)
	}
}

func TestParseTitlesTruncatesToCount(t *testing.T) {
	got := ParseTitles("a\nb\nc\nd", 2)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("titles = %q", got)
	}
}

func TestParseTitlesKeepsLeadingNumbersInsideTitle(t *testing.T) {
	got := ParseTitles("1. 10 Tips for Go Developers\n2. 2024 in Review", 5)
	want := []string{"10 Tips for Go Developers", "2024 in Review"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("titles = %q, want %q", got, want)
	}
}

func TestParseKeywordsSplitsOnBoth(t *testing.T) {
	got := ParseKeywords("golang, concurrency\nchannels,Golang")
	want := []string{"golang", "concurrency", "channels"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("keywords = %q, want %q", got, want)
	}
}

func TestParseOutlineNumberedWithBriefs(t *testing.T) {
	raw := "Here is your outline:\n\n1. Introduction - Why Go matters\n2. Goroutines: the basics - Cheap concurrency\n3. Conclusion\n"
	got := ParseOutline(raw)
	if len(got) != 3 {
		t.Fatalf("sections = %d, want 3", len(got))
	}
	if got[0].Title != "Introduction" || got[0].Content != "Why Go matters" {
		t.Fatalf("section 0 = %+v", got[0])
	}
	if got[1].Title != "Goroutines: the basics" || got[1].Content != "Cheap concurrency" {
		t.Fatalf("section 1 = %+v", got[1])
	}
	if got[2].Title != "Conclusion" || got[2].Content != "" {
		t.Fatalf("section 2 = %+v", got[2])
	}

	ids := map[string]bool{}
	for _, s := range got {
		if s.ID == "" || ids[s.ID] {
			t.Fatalf("section ids must be fresh and unique: %+v", got)
		}
		ids[s.ID] = true
	}
}

func TestParseOutlineFallsBackToLines(t *testing.T) {
	got := ParseOutline("- Setup\n- Deploy - Push to prod\n")
	if len(got) != 2 || got[0].Title != "Setup" || got[1].Content != "Push to prod" {
		t.Fatalf("sections = %+v", got)
	}
}

func TestSplitDraftSections(t *testing.T) {
	draft := "# Title\n\nIntro text\n\n## One\nfirst\n\n## Two\nsecond\n"
	got := splitDraftSections(draft)
	if len(got) != 2 {
		t.Fatalf("sections = %q", got)
	}
	if !strings.HasPrefix(got[0], "## One") || !strings.HasSuffix(got[1], "second") {
		t.Fatalf("sections = %q", got)
	}
}
