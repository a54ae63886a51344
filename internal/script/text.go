package script

import (
	"regexp"
	"strings"
)

var (
	ellipsisRe  = regexp.MustCompile(`\.{3,}|…|⋯|‥`)
	multiStopRe = regexp.MustCompile(`。{2,}`)
	endStopRe   = regexp.MustCompile(`[。．.!?]$`)
	boldRe      = regexp.MustCompile(`\*\*([^*]*)\*\*`)
	italicRe    = regexp.MustCompile(`\*([^*]*)\*`)
	sentenceRe  = regexp.MustCompile(`[^。！？.!?]+[。！？.!?]*`)
)

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// CleanTitle strips ellipses and collapses whitespace.
func CleanTitle(title string) string {
	return strings.TrimSpace(ellipsisRe.ReplaceAllString(normalizeWhitespace(title), ""))
}

// CleanDescription returns a read-aloud-safe description. Truncated
// feed descriptions (anything carrying an ellipsis) are dropped
// entirely; complete ones get a closing 。 if missing.
func CleanDescription(description string) string {
	normalized := normalizeWhitespace(description)
	if normalized == "" || ellipsisRe.MatchString(normalized) {
		return ""
	}
	if !endStopRe.MatchString(normalized) {
		return normalized + "。"
	}
	return normalized
}

// Sanitize replaces ellipses with 。 and collapses runs of 。 so the
// synthesizer never reads a trailing-off sentence.
func Sanitize(text string) string {
	cleaned := ellipsisRe.ReplaceAllString(text, "。")
	cleaned = multiStopRe.ReplaceAllString(cleaned, "。")
	return strings.TrimSpace(cleaned)
}

// stripMarkup removes markdown bold/italic markers the model sometimes
// emits despite instructions, keeping the wrapped text.
func stripMarkup(text string) string {
	t := boldRe.ReplaceAllString(text, "$1")
	t = strings.ReplaceAll(t, "**", "")
	t = italicRe.ReplaceAllString(t, "$1")
	return strings.ReplaceAll(t, "*", "")
}

// TrimToTarget shortens a script to the [1.02, 1.05]×target band by
// greedily accumulating whole sentences. Scripts already inside the
// band (or shorter) pass through untouched. When even one sentence
// overflows the band, that sentence is kept whole rather than cut
// mid-sentence.
func TrimToTarget(script string, targetChars int) string {
	if script == "" || targetChars <= 0 {
		return script
	}
	maxLen := int(float64(targetChars) * 1.05)
	minLen := int(float64(targetChars) * 1.02)
	if runeLen(script) <= maxLen {
		return script
	}

	var sentences []string
	for _, paragraph := range splitParagraphs(script) {
		parts := sentenceRe.FindAllString(paragraph, -1)
		if parts == nil {
			parts = []string{paragraph}
		}
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				sentences = append(sentences, trimmed)
			}
		}
	}

	best, current := "", ""
	for _, sentence := range sentences {
		next := sentence
		if current != "" {
			next = current + "\n" + sentence
		}
		if runeLen(next) <= maxLen {
			current = next
			best = current
			if runeLen(current) >= minLen {
				break
			}
			continue
		}
		// Still below min: let one sentence cross max instead of
		// returning a too-short script.
		if current == "" || runeLen(current) < minLen {
			best = next
		}
		break
	}

	if best != "" {
		return best
	}
	if current != "" {
		return current
	}
	return script
}

func splitParagraphs(s string) []string {
	var out []string
	for _, p := range regexp.MustCompile(`\n+`).Split(s, -1) {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
