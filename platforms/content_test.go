package platforms

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/goliatone/go-social/core"
)

func TestTruncateBodyPassthrough(t *testing.T) {
	if got := TruncateBody("short", 280); got != "short" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	exact := strings.Repeat("a", 20)
	if got := TruncateBody(exact, 20); got != exact {
		t.Fatalf("expected body at the limit untouched, got %q", got)
	}
	if got := TruncateBody("anything", 0); got != "anything" {
		t.Fatalf("expected zero limit to disable truncation, got %q", got)
	}
}

func TestTruncateBodyStaysWithinLimit(t *testing.T) {
	bodies := []string{
		strings.Repeat("a", 500),
		strings.Repeat("word ", 100),
		"One. Two. Three. " + strings.Repeat("padding ", 50),
		strings.Repeat("ü", 300),
	}
	for _, body := range bodies {
		got := TruncateBody(body, 280)
		if count := utf8.RuneCountInString(got); count > 280 {
			t.Fatalf("expected at most 280 runes, got %d for %q", count, got[:40])
		}
		if !strings.HasSuffix(got, "…") {
			t.Fatalf("expected ellipsis suffix, got %q", got)
		}
	}
}

func TestTruncateBodyPrefersSentenceEnd(t *testing.T) {
	body := "aaaa aaaa aaaa aa. bbbb cccc"
	got := TruncateBody(body, 20)
	if got != "aaaa aaaa aaaa aa.…" {
		t.Fatalf("expected cut at the sentence end, got %q", got)
	}
}

func TestTruncateBodyFallsBackToWordBreak(t *testing.T) {
	body := "One. Two. Three. This sentence is really quite long indeed."
	got := TruncateBody(body, 40)
	if got != "One. Two. Three. This sentence is…" {
		t.Fatalf("expected cut at the word break, got %q", got)
	}
}

func TestTruncateBodyHardCutWithoutBreaks(t *testing.T) {
	body := strings.Repeat("x", 100)
	got := TruncateBody(body, 20)
	if got != strings.Repeat("x", 19)+"…" {
		t.Fatalf("expected hard cut, got %q", got)
	}
}

func TestCapImages(t *testing.T) {
	urls := []string{" https://img/1 ", "", "https://img/2", "   ", "https://img/3"}
	got := CapImages(urls, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 urls, got %d", len(got))
	}
	if got[0] != "https://img/1" || got[1] != "https://img/2" {
		t.Fatalf("expected trimmed urls in order, got %v", got)
	}
	if got := CapImages(urls, 0); len(got) != 3 {
		t.Fatalf("expected no cap with max 0, got %d", len(got))
	}
}

func TestRequireImages(t *testing.T) {
	if err := RequireImages("pinterest", core.PublishContent{ImageURLs: []string{"https://img/1"}}); err != nil {
		t.Fatalf("expected nil with an image, got %v", err)
	}
	err := RequireImages("pinterest", core.PublishContent{Body: "text only"})
	if err == nil {
		t.Fatalf("expected error without images")
	}
	if err.Retryable {
		t.Fatalf("expected terminal rejection")
	}
	if err.Platform != "pinterest" || err.Op != "publish" {
		t.Fatalf("unexpected classification: %+v", err)
	}
}
