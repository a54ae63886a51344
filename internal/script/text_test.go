package script

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unicode ellipsis", "続きは…また明日", "続きは。また明日"},
		{"dot ellipsis", "それでは...以上です", "それでは。以上です"},
		{"collapses stops", "終わりです。。。", "終わりです。"},
		{"ellipsis then stop collapses", "まだ続きが…。", "まだ続きが。"},
		{"trims", "  こんにちは。  ", "こんにちは。"},
		{"clean text untouched", "今日は晴れです。明日は雨です。", "今日は晴れです。明日は雨です。"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**太字**のテキスト", "太字のテキスト"},
		{"*強調*も消える", "強調も消える"},
		{"残った**記号も*消す", "残った記号も消す"},
		{"普通の文はそのまま", "普通の文はそのまま"},
	}
	for _, tt := range tests {
		if got := stripMarkup(tt.in); got != tt.want {
			t.Fatalf("stripMarkup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCleanDescription(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"truncated dropped", "政府は新たな対策を…", ""},
		{"complete kept", "政府は新たな対策を発表しました。", "政府は新たな対策を発表しました。"},
		{"missing stop appended", "政府は対策を発表", "政府は対策を発表。"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanDescription(tt.in); got != tt.want {
				t.Fatalf("CleanDescription(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTrimToTargetPassThrough(t *testing.T) {
	script := strings.Repeat("あ", 100) + "。"
	// 101 chars <= floor(100*1.05)=105, stays untouched.
	if got := TrimToTarget(script, 100); got != script {
		t.Fatalf("short script should pass through, got %d runes", runeLen(got))
	}
	if got := TrimToTarget("", 100); got != "" {
		t.Fatalf("empty script changed: %q", got)
	}
	if got := TrimToTarget(script, 0); got != script {
		t.Fatal("zero target should pass through")
	}
}

func TestTrimToTargetAccumulatesSentences(t *testing.T) {
	sentence := strings.Repeat("あ", 39) + "。" // 40 runes each
	script := strings.Repeat(sentence, 10)     // 400 runes
	target := 150                              // band: [153, 157]

	got := TrimToTarget(script, target)
	n := runeLen(got)
	// Four whole sentences plus three separators: 163 runes. The band
	// cannot be hit exactly with 40-rune sentences; the algorithm keeps
	// whole sentences and lets the last one cross max.
	if !strings.HasSuffix(got, "。") {
		t.Fatalf("trim cut mid-sentence: %q", got[len(got)-12:])
	}
	if n >= runeLen(script) {
		t.Fatalf("nothing trimmed: %d runes", n)
	}
	if n < target {
		t.Fatalf("trimmed below target: %d < %d", n, target)
	}
}

func TestTrimToTargetStopsInsideBand(t *testing.T) {
	sentence := strings.Repeat("い", 9) + "。" // 10 runes
	script := strings.Repeat(sentence, 50)   // 500 runes
	target := 200                            // band: [204, 210]

	got := TrimToTarget(script, target)
	n := runeLen(got)
	if n < 204 || n > 210 {
		t.Fatalf("trimmed length %d outside band [204, 210]", n)
	}
}
