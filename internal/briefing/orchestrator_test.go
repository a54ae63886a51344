package briefing

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/metrics"
	"github.com/briefcast/briefcast/internal/news"
	"github.com/briefcast/briefcast/internal/quota"
	"github.com/briefcast/briefcast/internal/script"
	"github.com/briefcast/briefcast/internal/store"
	"github.com/briefcast/briefcast/internal/tts"
)

type fakeNews struct {
	items []news.Item
}

func (f *fakeNews) FetchTopics(ctx context.Context, topics []string) []news.Item {
	return f.items
}

type fakeScripts struct {
	res    script.Result
	err    error
	hasKey bool
}

func (f *fakeScripts) Generate(ctx context.Context, items []news.Item, durationSeconds int) (script.Result, error) {
	return f.res, f.err
}

func (f *fakeScripts) Fallback(items []news.Item, durationSeconds int) string {
	return "こんばんは。ニュースをお伝えします。\n\n以上、ニュースでした。"
}

func (f *fakeScripts) HasKey() bool { return f.hasKey }

type fakeSpeech struct {
	res      tts.Result
	hasKey   bool
	gotText  string
	gotVoice string
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text, voice string) tts.Result {
	f.gotText = text
	f.gotVoice = voice
	return f.res
}

func (f *fakeSpeech) HasKey() bool { return f.hasKey }

type fakeBlob struct {
	saved   map[string][]byte
	deleted []string
	saveErr error
}

func newFakeBlob() *fakeBlob { return &fakeBlob{saved: map[string][]byte{}} }

func (f *fakeBlob) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved[filename] = data
	return "/api/audio/" + filename, nil
}

func (f *fakeBlob) Delete(ctx context.Context, audioURL string) error {
	f.deleted = append(f.deleted, audioURL)
	return nil
}

func (f *fakeBlob) Exists(ctx context.Context, audioURL string) (bool, error) { return true, nil }

func (f *fakeBlob) Size(ctx context.Context, filename string) (int64, error) { return 0, nil }

func (f *fakeBlob) ReadRange(ctx context.Context, filename string, start, end int64) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type fixture struct {
	orch    *Orchestrator
	ledger  *ledger.Ledger
	store   *store.Store
	scripts *fakeScripts
	speech  *fakeSpeech
	blobs   *fakeBlob
}

func newFixture(t *testing.T, scripts *fakeScripts, speech *fakeSpeech) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.New(filepath.Join(t.TempDir(), "state.json"), nil, log)
	if err := st.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	l := ledger.New(st)
	gate := quota.New(l, quota.DefaultLimits())
	blobs := newFakeBlob()
	items := []news.Item{{Title: "ニュース", Description: "内容です。"}}
	orch := New(gate, l, &fakeNews{items: items}, scripts, speech, st, blobs, metrics.New(), log)
	orch.now = func() time.Time { return time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC) }
	return &fixture{orch: orch, ledger: l, store: st, scripts: scripts, speech: speech, blobs: blobs}
}

func counters(t *testing.T, l *ledger.Ledger) store.Counters {
	t.Helper()
	var c store.Counters
	l.View(func(u *store.Usage) { c = u.Totals })
	return c
}

var testUser = &store.User{ID: "user-1", Email: "u@example.com"}

func okAudio() tts.Result {
	return tts.Result{
		AudioBase64: base64.StdEncoding.EncodeToString([]byte("mp3-bytes")),
		Chunks:      1,
		Calls:       1,
		DidCall:     true,
	}
}

func TestGenerateSuccess(t *testing.T) {
	scripts := &fakeScripts{hasKey: true, res: script.Result{
		Script: "こんにちは。ニュースをお伝えします。\n\n以上、ニュースでした。",
		Debug:  script.Debug{HasGeminiKey: true, UsedModel: "gemini-2.0-flash"},
	}}
	speech := &fakeSpeech{hasKey: true, res: okAudio()}
	f := newFixture(t, scripts, speech)

	resp, denied, err := f.orch.Generate(context.Background(), testUser, Request{
		Topics: []string{"headline"}, Voice: "male", Duration: 300,
	})
	if err != nil || denied != nil {
		t.Fatalf("err=%v denied=%+v", err, denied)
	}
	if resp.AudioURL == nil || !strings.HasPrefix(*resp.AudioURL, "/api/audio/briefing-") {
		t.Fatalf("audioUrl = %v", resp.AudioURL)
	}
	if resp.IsDemo {
		t.Fatal("successful run should not be demo")
	}
	if !strings.HasSuffix(resp.Script, ClosingLine) {
		t.Fatalf("closing line missing: %q", resp.Script)
	}
	if strings.Contains(resp.Script, "以上、ニュースでした。") {
		t.Fatalf("old closing not stripped: %q", resp.Script)
	}
	if speech.gotText != resp.Script || speech.gotVoice != "male" {
		t.Fatalf("synthesizer input wrong: voice=%q", speech.gotVoice)
	}

	c := counters(t, f.ledger)
	if c.GenerateBriefing != 1 || c.GenerateSuccess != 1 || c.GenerateFail != 0 {
		t.Fatalf("generate counters: %+v", c)
	}
	if c.GeminiCalls != 1 || c.GeminiSuccess != 1 {
		t.Fatalf("gemini counters: %+v", c)
	}
	if c.TTSCalls != 1 || c.TTSSuccess != 1 {
		t.Fatalf("tts counters: %+v", c)
	}

	// Briefing persisted with the audio URL.
	f.store.View(func(s *store.State) {
		if len(s.Briefings) != 1 {
			t.Fatalf("briefings = %d", len(s.Briefings))
		}
		b := s.Briefings[0]
		if b.UserID != testUser.ID || b.AudioURL != *resp.AudioURL || b.Voice != "male" {
			t.Fatalf("briefing record wrong: %+v", b)
		}
	})
	if string(f.blobs.saved[resp.BriefingID+".mp3"]) != "mp3-bytes" {
		t.Fatal("audio bytes not persisted")
	}
}

func TestGenerateQuotaDenied(t *testing.T) {
	scripts := &fakeScripts{hasKey: true}
	f := newFixture(t, scripts, &fakeSpeech{})

	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		f.ledger.RecordGenerateAttempt(testUser.ID, now)
	}

	resp, denied, err := f.orch.Generate(context.Background(), testUser, Request{Duration: 300})
	if err != nil || resp != nil {
		t.Fatalf("err=%v resp=%+v", err, resp)
	}
	if denied == nil || denied.Code != quota.CodeMinuteLimit {
		t.Fatalf("denied = %+v", denied)
	}
	// A denied request records nothing further.
	c := counters(t, f.ledger)
	if c.GenerateBriefing != 4 || c.GenerateSuccess != 0 || c.GenerateFail != 0 {
		t.Fatalf("counters moved on denial: %+v", c)
	}
}

func TestGenerateUpstreamErrorIsNotDemo(t *testing.T) {
	scripts := &fakeScripts{hasKey: true, res: script.Result{
		Script: "[エラー] 原稿生成に失敗しました: 無料枠のリクエスト制限に達しました。",
		IsDemo: true,
		Debug: script.Debug{
			HasGeminiKey: true,
			Error:        "無料枠のリクエスト制限に達しました。",
			ErrorType:    "rate_limit",
		},
	}}
	f := newFixture(t, scripts, &fakeSpeech{})

	resp, denied, err := f.orch.Generate(context.Background(), testUser, Request{Duration: 300})
	if resp != nil || denied != nil {
		t.Fatalf("resp=%+v denied=%+v", resp, denied)
	}
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if !strings.HasPrefix(upstream.Message, "Gemini API エラー") {
		t.Fatalf("message = %q", upstream.Message)
	}

	c := counters(t, f.ledger)
	if c.GenerateFail != 1 || c.GenerateSuccess != 0 {
		t.Fatalf("outcome counters: %+v", c)
	}
	if c.GeminiCalls != 1 || c.GeminiFail != 1 {
		t.Fatalf("gemini recorded %d times: %+v", c.GeminiCalls, c)
	}
}

func TestGenerateNetworkErrorFallsBack(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	scripts := &fakeScripts{hasKey: true, err: netErr}
	speech := &fakeSpeech{hasKey: true, res: okAudio()}
	f := newFixture(t, scripts, speech)

	resp, denied, err := f.orch.Generate(context.Background(), testUser, Request{Duration: 300})
	if err != nil || denied != nil {
		t.Fatalf("err=%v denied=%+v", err, denied)
	}
	if !resp.IsDemo || !resp.Debug.UsedFallback || resp.Debug.ErrorType != "network" {
		t.Fatalf("debug = %+v", resp.Debug)
	}
	if !strings.HasSuffix(resp.Script, ClosingLine) {
		t.Fatal("fallback script missing closing")
	}

	c := counters(t, f.ledger)
	if c.GenerateSuccess != 1 {
		t.Fatalf("network fallback still succeeds overall: %+v", c)
	}
	if c.GeminiCalls != 1 || c.GeminiFail != 1 {
		t.Fatalf("gemini failure not recorded once: %+v", c)
	}
}

func TestGenerateTTSFailureKeepsScript(t *testing.T) {
	scripts := &fakeScripts{hasKey: true, res: script.Result{
		Script: "本日のニュースです。",
		Debug:  script.Debug{HasGeminiKey: true, UsedModel: "gemini-2.0-flash"},
	}}
	speech := &fakeSpeech{hasKey: true, res: tts.Result{
		IsDemo: true, Err: "backend unavailable", Calls: 3, DidCall: true,
	}}
	f := newFixture(t, scripts, speech)

	resp, _, err := f.orch.Generate(context.Background(), testUser, Request{Duration: 300})
	if err != nil {
		t.Fatal(err)
	}
	if resp.AudioURL != nil {
		t.Fatal("audioUrl must be null when synthesis failed")
	}
	if !resp.IsDemo || resp.Debug.TTSError != "backend unavailable" {
		t.Fatalf("resp = %+v", resp)
	}

	c := counters(t, f.ledger)
	if c.TTSCalls != 3 || c.TTSFail != 1 || c.TTSSuccess != 0 {
		t.Fatalf("tts counters: %+v", c)
	}
	// Script survives: the briefing is persisted without audio.
	f.store.View(func(s *store.State) {
		if len(s.Briefings) != 1 || s.Briefings[0].AudioURL != "" {
			t.Fatalf("briefing persistence wrong: %+v", s.Briefings)
		}
	})
}

func TestGenerateWithoutKeysIsDemo(t *testing.T) {
	scripts := &fakeScripts{hasKey: false, res: script.Result{
		Script: "[デモ] Gemini APIキーを設定すると、ここにニュース原稿が生成されます。",
		IsDemo: true,
		Debug:  script.Debug{GeminiKeyPrefix: "none"},
	}}
	speech := &fakeSpeech{hasKey: false, res: tts.Result{IsDemo: true, Err: "GOOGLE_TTS_API_KEY is missing."}}
	f := newFixture(t, scripts, speech)

	resp, _, err := f.orch.Generate(context.Background(), testUser, Request{Duration: 300})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsDemo {
		t.Fatal("keyless run must be demo")
	}

	c := counters(t, f.ledger)
	if c.GeminiCalls != 0 {
		t.Fatalf("gemini must not be recorded without a key: %+v", c)
	}
	if c.TTSCalls != 0 {
		t.Fatalf("tts must not be recorded without a call: %+v", c)
	}
	if c.GenerateSuccess != 1 {
		t.Fatalf("demo run still counts as generate success: %+v", c)
	}
}

func TestAppendClosing(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"plain", "本日のニュースです。"},
		{"old closing stripped", "本日のニュースです。\n以上、ニュースでした。"},
		{"duplicate closings stripped", "本日のニュースです。\n以上です。\n以上、ニュースでした。"},
		{"closing with spaces", "本日のニュースです。\n以上、ニュースでした。   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendClosing(tt.in)
			if !strings.HasSuffix(got, "\n\n"+ClosingLine) {
				t.Fatalf("missing closing: %q", got)
			}
			if strings.Count(got, "以上") != 1 {
				t.Fatalf("duplicate closing lines: %q", got)
			}
			if !strings.HasPrefix(got, "本日のニュースです。") {
				t.Fatalf("body damaged: %q", got)
			}
		})
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	f := newFixture(t, &fakeScripts{}, &fakeSpeech{})
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	f.store.Update(func(s *store.State) {
		s.Briefings = append(s.Briefings,
			&store.Briefing{ID: "briefing-old", AudioURL: "/api/audio/briefing-old.mp3", CreatedAt: now.Add(-31 * 24 * time.Hour)},
			&store.Briefing{ID: "briefing-fresh", CreatedAt: now.Add(-29 * 24 * time.Hour)},
		)
	})

	sw := NewSweeper(f.store, f.blobs, 30, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	sw.now = func() time.Time { return now }

	if removed := sw.Sweep(context.Background()); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	f.store.View(func(s *store.State) {
		if len(s.Briefings) != 1 || s.Briefings[0].ID != "briefing-fresh" {
			t.Fatalf("wrong survivor: %+v", s.Briefings)
		}
	})
	if len(f.blobs.deleted) != 1 || f.blobs.deleted[0] != "/api/audio/briefing-old.mp3" {
		t.Fatalf("blob deletes = %v", f.blobs.deleted)
	}
	// Second sweep is a no-op.
	if removed := sw.Sweep(context.Background()); removed != 0 {
		t.Fatalf("second sweep removed %d", removed)
	}
}
