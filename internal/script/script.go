// Package script turns news items into a Japanese radio script via the
// Gemini text API, with a model fallback chain and a deterministic
// offline fallback.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/briefcast/briefcast/internal/netutil"
	"github.com/briefcast/briefcast/internal/news"
)

// charsPerSecond converts requested duration into a character target
// for Japanese read speed.
const charsPerSecond = 6.5

const (
	defaultTimeout  = 60 * time.Second
	maxAttempts     = 3
	backoffStep     = 1200 * time.Millisecond
	maxPromptItems  = 30
	generateBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// defaultModels is the fallback chain, cheapest first. A rate-limited
// or missing model moves generation to the next entry.
var defaultModels = []string{"gemini-2.0-flash", "gemini-2.0-flash-lite", "gemini-2.5-flash"}

// Result is the outcome of one script generation. IsDemo marks scripts
// that did not come from a successful model call: the no-key demo text,
// the offline fallback, and error-flagged scripts.
type Result struct {
	Script string
	IsDemo bool
	Debug  Debug
}

// Debug is surfaced to the client for troubleshooting.
type Debug struct {
	HasGeminiKey    bool   `json:"hasGeminiKey"`
	GeminiKeyLength int    `json:"geminiKeyLength"`
	GeminiKeyPrefix string `json:"geminiKeyPrefix"`
	UsedModel       string `json:"usedModel"`
	ScriptLength    int    `json:"scriptLength,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorType       string `json:"errorType,omitempty"`
	UsedFallback    bool   `json:"usedFallback,omitempty"`
}

// APIError is a terminal upstream failure: the API answered with a
// status that retrying or switching models cannot fix.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// terminalState classifies how a generation run ended.
type terminalState int

const (
	stateSuccess terminalState = iota
	stateExhaustedNetwork
	stateExhaustedOther
)

// Generator produces briefing scripts.
type Generator struct {
	apiKey  string
	models  []string
	baseURL string
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewGenerator creates a generator. modelOverride, when non-empty,
// replaces the whole fallback chain with that single model.
func NewGenerator(apiKey, modelOverride string, log *slog.Logger) *Generator {
	models := defaultModels
	if modelOverride != "" {
		models = []string{modelOverride}
	}
	return &Generator{
		apiKey:  apiKey,
		models:  models,
		baseURL: generateBaseURL,
		client:  &http.Client{},
		timeout: defaultTimeout,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// HasKey reports whether a usable API key is configured.
func (g *Generator) HasKey() bool {
	return g.apiKey != "" && g.apiKey != "your_gemini_api_key"
}

// Fallback builds the deterministic offline script for the given items.
func (g *Generator) Fallback(items []news.Item, durationSeconds int) string {
	return buildFallbackScript(items, durationSeconds, g.now())
}

// Generate produces a script for the news items. Expected failure modes
// (no key, network exhaustion, rate-limit exhaustion) come back as a
// Result with IsDemo set; a non-nil error means the API rejected the
// request outright and the caller should surface it.
func (g *Generator) Generate(ctx context.Context, items []news.Item, durationSeconds int) (Result, error) {
	if !g.HasKey() {
		return Result{
			Script: "[デモ] Gemini APIキーを設定すると、ここにニュース原稿が生成されます。",
			IsDemo: true,
			Debug:  Debug{GeminiKeyPrefix: "none"},
		}, nil
	}

	debug := Debug{
		HasGeminiKey:    true,
		GeminiKeyLength: len(g.apiKey),
		GeminiKeyPrefix: keyPrefix(g.apiKey),
	}
	targetChars := int(float64(durationSeconds) * charsPerSecond)
	prompt := buildPrompt(items, targetChars, g.now())

	var lastErr error
	state := stateExhaustedOther
	lastErrorType := "unknown"

modelLoop:
	for _, model := range g.models {
		text, err := g.callModel(ctx, model, prompt)
		if err == nil {
			text = stripMarkup(text)
			text = Sanitize(text)
			text = TrimToTarget(text, targetChars)
			text = Sanitize(text)
			debug.UsedModel = model
			debug.ScriptLength = len([]rune(text))
			return Result{Script: text, IsDemo: false, Debug: debug}, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusTooManyRequests:
				lastErr = errors.New(friendlyRateLimit(apiErr.Message))
				lastErrorType = "rate_limit"
				continue modelLoop
			case http.StatusNotFound:
				lastErr = fmt.Errorf("モデル %s は利用できません。", model)
				lastErrorType = "model_not_found"
				continue modelLoop
			default:
				// Terminal: retrying another model cannot fix auth or
				// request problems.
				return Result{}, apiErr
			}
		}

		if netutil.IsNetworkError(err) {
			lastErr = err
			state = stateExhaustedNetwork
			break modelLoop
		}
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}

	g.log.ErrorContext(ctx, "script generation failed on all models", "error", lastErr)
	msg := "Gemini API error"
	if lastErr != nil {
		msg = lastErr.Error()
	}

	if state == stateExhaustedNetwork {
		debug.Error = netutil.Describe(lastErr)
		debug.ErrorType = "network"
		debug.UsedFallback = true
		return Result{
			Script: g.Fallback(items, durationSeconds),
			IsDemo: true,
			Debug:  debug,
		}, nil
	}

	debug.Error = msg
	debug.ErrorType = lastErrorType
	return Result{
		Script: "[エラー] 原稿生成に失敗しました: " + msg,
		IsDemo: true,
		Debug:  debug,
	}, nil
}

// callModel runs the attempt loop for one model: up to maxAttempts
// requests, retrying only transport failures with a linearly growing
// pause. API-level failures come back as *APIError without retry.
func (g *Generator) callModel(ctx context.Context, model, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := g.doRequest(ctx, model, prompt)
		if err == nil {
			return text, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", err
		}
		lastErr = err
		if attempt < maxAttempts && netutil.IsNetworkError(err) {
			if serr := g.sleep(ctx, backoffStep*time.Duration(attempt)); serr != nil {
				return "", serr
			}
			continue
		}
		return "", err
	}
	return "", lastErr
}

func keyPrefix(key string) string {
	if len(key) <= 10 {
		return key + "..."
	}
	return key[:10] + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
