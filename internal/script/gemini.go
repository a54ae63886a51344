package script

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// geminiTextRequest is the request body for Gemini generateContent.
type geminiTextRequest struct {
	Contents         []geminiTextContent `json:"contents"`
	GenerationConfig *geminiTextGenCfg   `json:"generationConfig,omitempty"`
}

type geminiTextContent struct {
	Parts []geminiTextPart `json:"parts"`
}

type geminiTextPart struct {
	Text string `json:"text"`
}

type geminiTextGenCfg struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type geminiTextResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// doRequest performs one generateContent call with the per-attempt
// timeout. Transport failures are returned as-is; HTTP-level failures
// come back as *APIError carrying the upstream message.
func (g *Generator) doRequest(ctx context.Context, model, prompt string) (string, error) {
	reqBody := geminiTextRequest{
		Contents: []geminiTextContent{
			{Parts: []geminiTextPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiTextGenCfg{
			MaxOutputTokens: 16384,
			Temperature:     0.7,
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return "", err
	}

	if res.StatusCode != http.StatusOK {
		msg := upstreamMessage(respBody, res.StatusCode)
		if res.StatusCode == http.StatusForbidden && strings.Contains(msg, "unregistered callers") {
			msg = "Gemini APIキーが無効、または未登録の呼び出しとして拒否されました。Google AI Studio で発行したAPIキーを使用してください。"
		}
		return "", &APIError{Status: res.StatusCode, Message: msg}
	}

	var resp geminiTextResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "[生成に失敗しました]", nil
	}
	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "[生成に失敗しました]", nil
	}
	return text, nil
}

func upstreamMessage(body []byte, status int) string {
	var errResp geminiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	if len(body) > 0 {
		return string(body)
	}
	return fmt.Sprintf("Gemini API error: %d", status)
}

var (
	retryHintEN = regexp.MustCompile(`(?i)retry in ([\d.]+)s`)
	retryHintJA = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*秒`)
)

// friendlyRateLimit turns the upstream 429 message into user-facing
// guidance, lifting the suggested wait when the API includes one.
func friendlyRateLimit(upstream string) string {
	friendly := "無料枠のリクエスト制限に達しました。"
	match := retryHintEN.FindStringSubmatch(upstream)
	if match == nil {
		match = retryHintJA.FindStringSubmatch(upstream)
	}
	if match != nil {
		if secs, err := strconv.ParseFloat(match[1], 64); err == nil {
			friendly += fmt.Sprintf(" 約%d秒後に再試行してください。", int(math.Ceil(secs)))
		}
	} else {
		friendly += " しばらく待ってから再試行するか、別のモデルをお試しください。"
	}
	friendly += "\n\n詳細: https://ai.google.dev/gemini-api/docs/rate-limits"
	return friendly
}
