package script

import (
	"fmt"
	"strings"
	"time"

	"github.com/briefcast/briefcast/internal/news"
)

// jst is used for the time-of-day greeting. Japan has no DST, so a
// fixed offset is exact.
var jst = time.FixedZone("JST", 9*60*60)

// Greeting returns the time-of-day greeting for Japan time.
func Greeting(now time.Time) string {
	hour := now.In(jst).Hour()
	switch {
	case hour >= 5 && hour < 12:
		return "おはようございます"
	case hour >= 12 && hour < 18:
		return "こんにちは"
	default:
		return "こんばんは"
	}
}

const maxFallbackItems = 12

// buildFallbackScript composes a briefing directly from the news items
// without any model call. It is used when no API key is configured and
// when every model attempt failed on the network.
func buildFallbackScript(items []news.Item, durationSeconds int, now time.Time) string {
	intro := Greeting(now) + "。ニュースをお伝えします。"
	if len(items) == 0 {
		return intro + "\n\n現在、ニュースの取得に失敗しました。通信環境を確認して、もう一度お試しください。"
	}

	if len(items) > maxFallbackItems {
		items = items[:maxFallbackItems]
	}
	lines := make([]string, 0, len(items))
	for i, item := range items {
		lead := "続いて"
		switch {
		case i == 0:
			lead = "まず"
		case i == len(items)-1:
			lead = "最後に"
		}
		title := CleanTitle(item.Title)
		if title == "" {
			title = item.Title
		}
		line := lead + title
		if desc := CleanDescription(item.Description); desc != "" {
			line += " " + desc
		}
		lines = append(lines, strings.TrimSpace(line))
	}

	script := fmt.Sprintf("%s\n\n%s\n\n以上、ニュースでした。", intro, strings.Join(lines, "\n\n"))
	targetChars := int(float64(durationSeconds) * charsPerSecond)
	if runeLen(script) < int(float64(targetChars)*0.6) {
		script += "\n\nこのあとも最新情報が入り次第お伝えします。"
	}
	return script
}
