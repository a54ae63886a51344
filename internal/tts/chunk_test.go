package tts

import (
	"strings"
	"testing"
)

func TestSplitByByteLengthShortText(t *testing.T) {
	if got := SplitByByteLength("", 100); got != nil {
		t.Fatalf("empty input should yield nil, got %v", got)
	}
	if got := SplitByByteLength("   ", 100); got != nil {
		t.Fatalf("whitespace input should yield nil, got %v", got)
	}
	chunks := SplitByByteLength("こんにちは。", 100)
	if len(chunks) != 1 || chunks[0] != "こんにちは。" {
		t.Fatalf("short text should stay one chunk: %v", chunks)
	}
}

func TestSplitByByteLengthRespectsLimit(t *testing.T) {
	sentence := strings.Repeat("あ", 30) + "。" // 93 bytes
	text := strings.Repeat(sentence, 40)

	tests := []struct {
		name     string
		maxBytes int
	}{
		{"tight", 200},
		{"roomy", 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitByByteLength(text, tt.maxBytes)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			for i, c := range chunks {
				if len(c) > tt.maxBytes {
					t.Fatalf("chunk %d is %d bytes, limit %d", i, len(c), tt.maxBytes)
				}
			}
			// Order and content survive: strip separators and compare.
			joined := strings.Join(chunks, "")
			if strings.ReplaceAll(joined, "\n", "") != text {
				t.Fatal("chunk concatenation lost content")
			}
		})
	}
}

func TestSplitByByteLengthParagraphsPreferred(t *testing.T) {
	text := "第一段落の文です。\n\n第二段落の文です。"
	chunks := SplitByByteLength(text, 40)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %v", chunks)
	}
	if chunks[0] != "第一段落の文です。" || chunks[1] != "第二段落の文です。" {
		t.Fatalf("paragraph split wrong: %v", chunks)
	}
}

func TestSplitByByteLengthOversizedSentence(t *testing.T) {
	// One unbroken 600-byte sentence with a 100-byte limit must be cut
	// at rune boundaries, never mid-rune.
	sentence := strings.Repeat("あ", 200)
	chunks := SplitByByteLength(sentence, 100)
	if len(chunks) < 6 {
		t.Fatalf("expected >=6 chunks, got %d", len(chunks))
	}
	var total int
	for i, c := range chunks {
		if len(c) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
		for _, r := range c {
			if r != 'あ' {
				t.Fatalf("chunk %d corrupted: %q", i, c)
			}
		}
		total += len([]rune(c))
	}
	if total != 200 {
		t.Fatalf("runes lost: %d != 200", total)
	}
}
