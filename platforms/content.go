package platforms

import (
	"strings"

	"github.com/goliatone/go-social/core"
)

const ellipsis = "…"

// TruncateBody shortens body to at most limit runes, ellipsis included.
// The cut prefers a sentence end, then a word break, but only inside the
// final fifth of the allowance so a short leading sentence never swallows
// most of the budget. Bodies at or under the limit pass through untouched.
func TruncateBody(body string, limit int) string {
	if limit <= 0 {
		return body
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}

	budget := limit - 1
	if budget < 1 {
		return ellipsis
	}
	floor := limit - limit/5
	if floor < 0 {
		floor = 0
	}
	if floor > budget {
		floor = budget
	}

	cut := budget
	if sentence := lastSentenceEnd(runes, floor, budget); sentence > 0 {
		cut = sentence
	} else if word := lastWordBreak(runes, floor, budget); word > 0 {
		cut = word
	}

	trimmed := strings.TrimRight(string(runes[:cut]), " \t\n")
	return trimmed + ellipsis
}

func lastSentenceEnd(runes []rune, floor, ceiling int) int {
	for i := ceiling - 1; i >= floor; i-- {
		switch runes[i] {
		case '.', '!', '?':
			return i + 1
		}
	}
	return 0
}

func lastWordBreak(runes []rune, floor, ceiling int) int {
	for i := ceiling - 1; i >= floor; i-- {
		if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '\t' {
			return i
		}
	}
	return 0
}

// CapImages silently drops attachments beyond the platform's maximum.
func CapImages(urls []string, max int) []string {
	cleaned := make([]string, 0, len(urls))
	for _, url := range urls {
		if strings.TrimSpace(url) == "" {
			continue
		}
		cleaned = append(cleaned, strings.TrimSpace(url))
	}
	if max > 0 && len(cleaned) > max {
		cleaned = cleaned[:max]
	}
	return cleaned
}

// RequireImages rejects image-first platforms' content before any network
// call is made. The rejection is terminal: retrying the same content can
// never succeed.
func RequireImages(platform string, content core.PublishContent) *core.PlatformError {
	if len(CapImages(content.ImageURLs, 0)) > 0 {
		return nil
	}
	return NewError(platform, "publish", "at least one image is required", 0, false, nil)
}
