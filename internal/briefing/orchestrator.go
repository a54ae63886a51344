// Package briefing orchestrates the generation pipeline: quota gate,
// usage accounting, news fetch, script generation, speech synthesis,
// audio persistence. Outcome counters are recorded exactly once per
// request on every path, including failures.
package briefing

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/metrics"
	"github.com/briefcast/briefcast/internal/netutil"
	"github.com/briefcast/briefcast/internal/news"
	"github.com/briefcast/briefcast/internal/quota"
	"github.com/briefcast/briefcast/internal/script"
	"github.com/briefcast/briefcast/internal/storage"
	"github.com/briefcast/briefcast/internal/store"
	"github.com/briefcast/briefcast/internal/tts"
)

// ClosingLine ends every generated script. Trailing 以上… lines from
// the model are stripped first so the closing never doubles up.
const ClosingLine = "以上がこの時間のニュースでした。"

var closingRe = regexp.MustCompile(`^以上[^\n]*[。.]?\s*$`)

// ScriptService is the script generation dependency.
type ScriptService interface {
	Generate(ctx context.Context, items []news.Item, durationSeconds int) (script.Result, error)
	Fallback(items []news.Item, durationSeconds int) string
	HasKey() bool
}

// SpeechService is the synthesis dependency.
type SpeechService interface {
	Synthesize(ctx context.Context, text, voice string) tts.Result
	HasKey() bool
}

// NewsService fetches news items per topic.
type NewsService interface {
	FetchTopics(ctx context.Context, topics []string) []news.Item
}

// Request is one generation request, already defaulted by the caller.
type Request struct {
	Topics   []string
	Voice    string
	Duration int
}

// Response is the successful generation payload.
type Response struct {
	BriefingID string  `json:"briefingId"`
	AudioURL   *string `json:"audioUrl"`
	Script     string  `json:"script"`
	Duration   int     `json:"duration"`
	IsDemo     bool    `json:"isDemo"`
	Debug      Debug   `json:"debug"`
}

// Debug mirrors the troubleshooting payload clients rely on.
type Debug struct {
	HasGeminiKey    bool   `json:"hasGeminiKey"`
	HasTTSKey       bool   `json:"hasTtsKey"`
	GeminiKeyLength int    `json:"geminiKeyLength"`
	GeminiKeyPrefix string `json:"geminiKeyPrefix"`
	TTSError        string `json:"ttsError,omitempty"`
	TTSChunks       int    `json:"ttsChunks"`
	UsedModel       string `json:"usedModel"`
	NewsCount       int    `json:"newsCount"`
	ScriptLength    int    `json:"scriptLength"`
	IsDemoScript    bool   `json:"isDemoScript"`
	Error           string `json:"error,omitempty"`
	ErrorType       string `json:"errorType,omitempty"`
	UsedFallback    bool   `json:"usedFallback,omitempty"`
}

// UpstreamError is a pipeline failure the client gets a 500 for, with
// the upstream detail preserved.
type UpstreamError struct {
	Message string
	Details string
}

func (e *UpstreamError) Error() string { return e.Message }

// Orchestrator runs the generation pipeline.
type Orchestrator struct {
	gate    *quota.Gate
	ledger  *ledger.Ledger
	news    NewsService
	scripts ScriptService
	speech  SpeechService
	store   *store.Store
	blobs   storage.Blob
	metrics *metrics.Metrics
	log     *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// New wires the pipeline.
func New(gate *quota.Gate, l *ledger.Ledger, newsSvc NewsService, scripts ScriptService, speech SpeechService, st *store.Store, blobs storage.Blob, m *metrics.Metrics, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		gate:    gate,
		ledger:  l,
		news:    newsSvc,
		scripts: scripts,
		speech:  speech,
		store:   st,
		blobs:   blobs,
		metrics: m,
		log:     log,
		tracer:  otel.Tracer("briefcast/briefing"),
		now:     time.Now,
	}
}

// trackState guards the exactly-once recording of the outcome counters
// across the success path, expected-failure paths and the catch-all.
type trackState struct {
	generateTracked bool
	geminiAttempted bool
	geminiTracked   bool
}

// Generate runs the pipeline for one request. A denied quota check
// comes back as a non-nil Decision with no error; pipeline failures
// come back as an error (usually *UpstreamError) after the failure
// counters are recorded.
func (o *Orchestrator) Generate(ctx context.Context, user *store.User, req Request) (*Response, *quota.Decision, error) {
	ctx, span := o.tracer.Start(ctx, "generate-briefing")
	defer span.End()

	decision := o.gate.CheckAndRecord(user, o.now())
	if !decision.Allowed {
		o.metrics.QuotaDenied.WithLabelValues(decision.Code).Inc()
		return nil, &decision, nil
	}
	o.metrics.GenerateAttempts.Inc()
	span.AddEvent("attempt-recorded")

	st := &trackState{}
	resp, err := o.run(ctx, span, user, req, st)
	if err != nil {
		if !st.generateTracked {
			o.ledger.RecordGenerateOutcome(user.ID, false, o.now())
			st.generateTracked = true
		}
		if st.geminiAttempted && !st.geminiTracked {
			o.ledger.RecordGeminiCall(user.ID, false, o.now())
			o.metrics.GeminiCalls.WithLabelValues("failure").Inc()
			st.geminiTracked = true
		}
		o.metrics.GenerateOutcomes.WithLabelValues("failure").Inc()
		o.log.ErrorContext(ctx, "briefing generation failed", "user", user.ID, "error", err)
		return nil, nil, err
	}

	if !st.generateTracked {
		o.ledger.RecordGenerateOutcome(user.ID, true, o.now())
		st.generateTracked = true
	}
	o.metrics.GenerateOutcomes.WithLabelValues("success").Inc()
	return resp, nil, nil
}

func (o *Orchestrator) run(ctx context.Context, span trace.Span, user *store.User, req Request, st *trackState) (*Response, error) {
	items := o.news.FetchTopics(ctx, req.Topics)
	span.AddEvent("news-fetched")

	st.geminiAttempted = o.scripts.HasKey()
	genRes, err := o.scripts.Generate(ctx, items, req.Duration)
	if err != nil {
		if !netutil.IsNetworkError(err) {
			return nil, err
		}
		// Transport failure surfaced as an error: same treatment as the
		// generator's own network exhaustion.
		genRes = script.Result{
			Script: o.scripts.Fallback(items, req.Duration),
			IsDemo: true,
			Debug: script.Debug{
				HasGeminiKey: st.geminiAttempted,
				Error:        netutil.Describe(err),
				ErrorType:    "network",
				UsedFallback: true,
			},
		}
	}
	span.AddEvent("script-generated")

	st.geminiAttempted = genRes.Debug.HasGeminiKey
	geminiSuccess := !genRes.IsDemo
	if st.geminiAttempted {
		o.ledger.RecordGeminiCall(user.ID, geminiSuccess, o.now())
		o.metrics.GeminiCalls.WithLabelValues(outcomeLabel(geminiSuccess)).Inc()
		st.geminiTracked = true
	}

	// A configured key with a non-network failure is an error, not a
	// demo script.
	if genRes.IsDemo && genRes.Debug.Error != "" && genRes.Debug.ErrorType != "network" {
		msg := "Gemini API エラー: " + genRes.Debug.Error
		if strings.Contains(genRes.Debug.Error, "403") || strings.Contains(genRes.Debug.Error, "API key") || strings.Contains(genRes.Debug.Error, "APIキー") {
			msg = "Gemini API キーが無効です。キーを確認してください。"
		}
		return nil, &UpstreamError{Message: msg, Details: genRes.Debug.Error}
	}

	scriptWithClosing := AppendClosing(genRes.Script)

	ttsRes := o.speech.Synthesize(ctx, scriptWithClosing, req.Voice)
	span.AddEvent("speech-synthesized")
	if ttsRes.DidCall {
		success := ttsRes.AudioBase64 != ""
		o.ledger.RecordTTSCalls(user.ID, success, ttsRes.Calls, o.now())
		o.metrics.TTSCalls.WithLabelValues(outcomeLabel(success)).Add(float64(ttsRes.Calls))
	}

	briefingID := NewBriefingID()
	var audioURL *string
	if ttsRes.AudioBase64 != "" {
		audio, err := base64.StdEncoding.DecodeString(ttsRes.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("decode synthesized audio: %w", err)
		}
		url, err := o.blobs.Save(ctx, briefingID+".mp3", audio)
		if err != nil {
			return nil, fmt.Errorf("persist audio: %w", err)
		}
		audioURL = &url
		span.AddEvent("audio-persisted")
	}

	createdAt := o.now()
	record := &store.Briefing{
		ID:        briefingID,
		UserID:    user.ID,
		Topics:    req.Topics,
		Voice:     req.Voice,
		Duration:  req.Duration,
		Script:    scriptWithClosing,
		IsDemo:    genRes.IsDemo || ttsRes.IsDemo,
		Date:      ledger.DateKey(createdAt),
		CreatedAt: createdAt,
	}
	if audioURL != nil {
		record.AudioURL = *audioURL
	}
	o.store.Update(func(s *store.State) {
		s.Briefings = append(s.Briefings, record)
	})
	o.store.Save(store.SaveFlags{Briefings: true})

	return &Response{
		BriefingID: briefingID,
		AudioURL:   audioURL,
		Script:     scriptWithClosing,
		Duration:   req.Duration,
		IsDemo:     record.IsDemo,
		Debug: Debug{
			HasGeminiKey:    o.scripts.HasKey(),
			HasTTSKey:       o.speech.HasKey(),
			GeminiKeyLength: genRes.Debug.GeminiKeyLength,
			GeminiKeyPrefix: genRes.Debug.GeminiKeyPrefix,
			TTSError:        ttsRes.Err,
			TTSChunks:       ttsRes.Chunks,
			UsedModel:       genRes.Debug.UsedModel,
			NewsCount:       len(items),
			ScriptLength:    len([]rune(scriptWithClosing)),
			IsDemoScript:    genRes.IsDemo,
			Error:           genRes.Debug.Error,
			ErrorType:       genRes.Debug.ErrorType,
			UsedFallback:    genRes.Debug.UsedFallback,
		},
	}, nil
}

// AppendClosing strips trailing 以上… lines and appends the standard
// closing sentence.
func AppendClosing(s string) string {
	body := strings.TrimRight(s, " \t\r\n")
	lines := strings.Split(body, "\n")
	for len(lines) > 0 && closingRe.MatchString(strings.TrimSpace(lines[len(lines)-1])) {
		lines = lines[:len(lines)-1]
	}
	body = strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n")
	return body + "\n\n" + ClosingLine
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
