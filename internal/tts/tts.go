// Package tts synthesizes briefing audio with the Google Cloud
// Text-to-Speech REST API. Long scripts are chunked under the request
// byte limit and the chunk audio is concatenated; a failed chunk fails
// the whole synthesis, partial audio is never returned.
package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"syscall"
	"time"
)

const (
	synthesizeEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"
	maxChunkBytes      = 4500
	chunkAttempts      = 3
	chunkTimeout       = 90 * time.Second
	retryPause         = 3 * time.Second
)

// Result is the outcome of one synthesis. A nil-audio result carries
// the first error and the number of upstream calls already spent.
type Result struct {
	AudioBase64 string
	IsDemo      bool
	Err         string
	Chunks      int
	Calls       int
	DidCall     bool
}

// Synthesizer calls the TTS API.
type Synthesizer struct {
	apiKey   string
	endpoint string
	client   *http.Client
	log      *slog.Logger

	sleep func(context.Context, time.Duration) error
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(apiKey string, log *slog.Logger) *Synthesizer {
	return &Synthesizer{
		apiKey:   apiKey,
		endpoint: synthesizeEndpoint,
		client:   &http.Client{},
		log:      log,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// HasKey reports whether a usable API key is configured.
func (s *Synthesizer) HasKey() bool {
	return s.apiKey != "" && s.apiKey != "your_tts_api_key"
}

// VoiceName maps the API voice parameter to a Neural2 voice.
// B is the female voice, C the male one.
func VoiceName(voice string) string {
	if voice == "male" {
		return "ja-JP-Neural2-C"
	}
	return "ja-JP-Neural2-B"
}

// Synthesize renders text as MP3 audio. Every chunk must succeed;
// otherwise the result carries no audio at all, plus the call count
// for usage accounting.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) Result {
	if !s.HasKey() {
		return Result{IsDemo: true, Err: "GOOGLE_TTS_API_KEY is missing."}
	}

	chunks := SplitByByteLength(text, maxChunkBytes)
	if len(chunks) == 0 {
		return Result{IsDemo: true, Err: "TTS text is empty."}
	}

	voiceName := VoiceName(voice)
	calls := 0
	var audio bytes.Buffer
	for i, chunk := range chunks {
		data, err := s.synthesizeChunk(ctx, chunk, voiceName, &calls)
		if err != nil {
			s.log.ErrorContext(ctx, "tts chunk failed", "chunk", i, "calls", calls, "error", err)
			return Result{
				IsDemo:  true,
				Err:     err.Error(),
				Calls:   calls,
				DidCall: calls > 0,
			}
		}
		audio.Write(data)
	}

	return Result{
		AudioBase64: base64.StdEncoding.EncodeToString(audio.Bytes()),
		Chunks:      len(chunks),
		Calls:       calls,
		DidCall:     calls > 0,
	}
}

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

type ttsErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// synthesizeChunk runs the per-chunk attempt loop. Transport failures
// classified as retryable get up to chunkAttempts tries with a fixed
// pause; an HTTP-level error is returned immediately.
func (s *Synthesizer) synthesizeChunk(ctx context.Context, chunk, voiceName string, calls *int) ([]byte, error) {
	var req synthesizeRequest
	req.Input.Text = chunk
	req.Voice.LanguageCode = "ja-JP"
	req.Voice.Name = voiceName
	req.AudioConfig.AudioEncoding = "MP3"
	req.AudioConfig.SpeakingRate = 0.95

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= chunkAttempts; attempt++ {
		*calls++
		data, err := s.doRequest(ctx, body)
		if err == nil {
			return data, nil
		}
		var upstream *upstreamError
		if errors.As(err, &upstream) {
			return nil, err
		}
		lastErr = err
		if attempt < chunkAttempts && isRetryable(err) {
			s.log.WarnContext(ctx, "tts attempt failed, retrying", "attempt", attempt, "error", err)
			if serr := s.sleep(ctx, retryPause); serr != nil {
				return nil, serr
			}
			continue
		}
		break
	}
	return nil, fmt.Errorf("TTS request failed: %w", lastErr)
}

// upstreamError is an HTTP-level rejection from the TTS API; retrying
// the same request will not help.
type upstreamError struct {
	status  int
	message string
}

func (e *upstreamError) Error() string { return e.message }

func (s *Synthesizer) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, chunkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, s.endpoint+"?key="+s.apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		reason := fmt.Sprintf("HTTP %d", res.StatusCode)
		var errResp ttsErrorResponse
		if jerr := json.Unmarshal(respBody, &errResp); jerr == nil && errResp.Error.Message != "" {
			reason = errResp.Error.Message
		}
		return nil, &upstreamError{status: res.StatusCode, message: reason}
	}

	var resp synthesizeResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.AudioContent == "" {
		return nil, &upstreamError{status: res.StatusCode, message: "TTS response contained no audio"}
	}
	return base64.StdEncoding.DecodeString(resp.AudioContent)
}

// isRetryable limits chunk retries to reset, timeout and refused; any
// other failure aborts immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}
