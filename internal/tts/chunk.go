package tts

import (
	"regexp"
	"strings"
)

var (
	paragraphRe = regexp.MustCompile(`\n+`)
	sentenceRe  = regexp.MustCompile(`[^。！？.!?]+[。！？.!?]*`)
)

// SplitByByteLength packs text into chunks of at most maxBytes UTF-8
// bytes, in order. Paragraphs are split into sentences and greedily
// packed with "\n" separators; a sentence longer than maxBytes is cut
// at rune boundaries. The synthesis API enforces a request byte limit,
// so the bound is on bytes even though trimming elsewhere counts runes.
func SplitByByteLength(text string, maxBytes int) []string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil
	}
	if len(cleaned) <= maxBytes {
		return []string{cleaned}
	}

	var chunks []string
	current := ""

	pushCurrent := func() {
		if trimmed := strings.TrimSpace(current); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		current = ""
	}

	appendPiece := func(piece string) {
		next := piece
		if current != "" {
			next = current + "\n" + piece
		}
		if len(next) <= maxBytes {
			current = next
			return
		}

		pushCurrent()
		if len(piece) <= maxBytes {
			current = piece
			return
		}

		// A single oversized sentence: cut at rune boundaries.
		buf := ""
		for _, r := range piece {
			next := buf + string(r)
			if len(next) > maxBytes {
				if buf != "" {
					chunks = append(chunks, buf)
				}
				buf = string(r)
			} else {
				buf = next
			}
		}
		if buf != "" {
			chunks = append(chunks, buf)
		}
	}

	for _, paragraph := range paragraphRe.Split(cleaned, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		sentences := sentenceRe.FindAllString(paragraph, -1)
		if sentences == nil {
			sentences = []string{paragraph}
		}
		for _, sentence := range sentences {
			if trimmed := strings.TrimSpace(sentence); trimmed != "" {
				appendPiece(trimmed)
			}
		}
	}

	pushCurrent()
	return chunks
}
