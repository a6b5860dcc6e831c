package generation

import (
	"strings"
	"testing"
)

func TestComputeStatsReadingTime(t *testing.T) {
	content := strings.TrimSpace(strings.Repeat("word ", 400))
	stats := ComputeStats(content)
	if stats.WordCount != 400 {
		t.Fatalf("word count = %d, want 400", stats.WordCount)
	}
	if stats.ReadingTime != 2 {
		t.Fatalf("reading time = %d, want 2", stats.ReadingTime)
	}
}

func TestComputeStatsRoundsUp(t *testing.T) {
	if got := ComputeStats(strings.Repeat("w ", 201)).ReadingTime; got != 2 {
		t.Fatalf("reading time = %d, want 2", got)
	}
	if got := ComputeStats("").WordCount; got != 0 {
		t.Fatalf("empty word count = %d", got)
	}
}
