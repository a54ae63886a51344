package script

import (
	"fmt"
	"strings"
	"time"

	"github.com/briefcast/briefcast/internal/news"
)

// buildPrompt renders the newscaster prompt. The greeting is pinned so
// the model cannot improvise its own opening, and the character target
// is stated as a hard minimum because models undershoot far more often
// than they overshoot.
func buildPrompt(items []news.Item, targetChars int, now time.Time) string {
	if len(items) > maxPromptItems {
		items = items[:maxPromptItems]
	}
	entries := make([]string, 0, len(items))
	for _, item := range items {
		title := CleanTitle(item.Title)
		if title == "" {
			title = item.Title
		}
		entry := "- " + title
		if desc := CleanDescription(item.Description); desc != "" {
			entry += "\n  " + desc
		}
		entries = append(entries, entry)
	}

	return fmt.Sprintf(`あなたは日本のニュースキャスターです。以下のニュース項目を基に、ラジオで読み上げる「ニュース原稿」を日本語で書いてください。
ルール：
- 文体は「です・ます」調で、聞きやすい口語にする
- 見出しを自然な文にし、必要に応じて補足を加える
- 原稿の総文字数は必ず %d 字以上にすること。足りない場合は各ニュースの説明を詳しく補足すること
- 冒頭に「%s。ニュースをお伝えします。」という挨拶を必ず入れる（この挨拶をそのまま使用すること）
- 項目の区切りで「続いて」「また」などを使う
- 原稿は最後まで省略せず書き切ること。途中で切れたり「...」で終わらせないこと
- 省略記号（…や...）が含まれる情報は無理に使わず、完結した文だけでまとめる
- マークダウン記号（**や*など）は使わず、普通のテキストのみで書くこと

ニュース項目：
%s

上記のみを出力し、余計な説明は書かないでください。`, targetChars, Greeting(now), strings.Join(entries, "\n\n"))
}
