package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// Adapter describes slide images with a vision model behind the OpenRouter
// chat-completions API.
type Adapter struct {
	key     string
	model   string
	baseURL string
	client  *http.Client
}

const (
	requestTimeout = 90 * time.Second
	maxImageBytes  = 8 << 20
	maxOCRChars    = 4000
	defaultModel   = "google/gemini-2.0-flash-001"
)

const defaultPrompt = "Describe this presentation slide for someone who cannot see it. " +
	"Give a one or two sentence description of what the slide shows and up to six short bullets with its key points."

func New(apiKey, model, baseURL string) *Adapter {
	if model == "" {
		model = defaultModel
	}
	return &Adapter{key: apiKey, model: model, baseURL: normalizeBaseURL(baseURL), client: &http.Client{Timeout: 5 * time.Minute}}
}

func (a *Adapter) Name() string { return "openrouter:" + a.model }

// Describe sends the image as a data URL together with the extracted slide text.
// A non-empty prompt replaces the default instruction.
func (a *Adapter) Describe(ctx context.Context, imagePath, ocrText, prompt string) (types.Description, error) {
	img, err := os.ReadFile(imagePath)
	if err != nil {
		return types.Description{}, err
	}
	if len(img) > maxImageBytes {
		return types.Description{}, fmt.Errorf("openrouter: image %s is %d bytes, limit is %d", filepath.Base(imagePath), len(img), maxImageBytes)
	}
	dataURL := "data:" + imageMIME(imagePath) + ";base64," + base64.StdEncoding.EncodeToString(img)

	payload := map[string]any{
		"model":  a.model,
		"stream": false,
		"messages": []map[string]any{
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": buildPrompt(prompt, ocrText)},
				{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
			}},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "slide_description",
				"strict": true,
				"schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description": map[string]any{"type": "string"},
						"bullets":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required":             []string{"description", "bullets"},
					"additionalProperties": false,
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.Description{}, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.baseURL+"/api/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return types.Description{}, err
	}
	req.Header.Set("Authorization", "Bearer "+a.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return types.Description{}, fmt.Errorf("openrouter timeout (model=%s): %w", a.model, reqCtx.Err())
		}
		return types.Description{}, errors.New(redactSecrets(err.Error(), a.key))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if readErr != nil {
			return types.Description{}, fmt.Errorf("openrouter status %d and read body failed: %v", resp.StatusCode, readErr)
		}
		return types.Description{}, fmt.Errorf("openrouter status %d: %s", resp.StatusCode, truncate(redactSecrets(string(rb), a.key), 400))
	}

	var raw struct {
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return types.Description{}, fmt.Errorf("decode response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return types.Description{}, errors.New("openrouter: no choices in response")
	}
	content, err := messageContentToString(raw.Choices[0].Message.Content)
	if err != nil {
		return types.Description{}, err
	}
	return parseDescription(content)
}

func parseDescription(content string) (types.Description, error) {
	clean, err := extractJSONObject(content)
	if err != nil {
		return types.Description{}, err
	}
	var out types.Description
	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return types.Description{}, fmt.Errorf("openrouter: decode description: %w", err)
	}
	out.Description = strings.TrimSpace(out.Description)
	if out.Description == "" {
		return types.Description{}, errors.New("openrouter: empty description")
	}
	bullets := make([]string, 0, len(out.Bullets))
	for _, b := range out.Bullets {
		b = strings.TrimSpace(strings.TrimLeft(b, "-*• "))
		if b != "" {
			bullets = append(bullets, b)
		}
	}
	out.Bullets = bullets
	return out, nil
}

func buildPrompt(prompt, ocrText string) string {
	p := strings.TrimSpace(prompt)
	if p == "" {
		p = defaultPrompt
	}
	var b strings.Builder
	b.WriteString(p)
	b.WriteString("\nReturn strictly valid JSON (no markdown, no code fences) matching the provided schema.")
	if t := strings.TrimSpace(ocrText); t != "" {
		b.WriteString("\n\nText extracted from the slide (may contain recognition errors):\n")
		b.WriteString(truncate(t, maxOCRChars))
	}
	return b.String()
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func messageContentToString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []any:
		// Some providers return an array of {type,text} parts.
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		s := b.String()
		if strings.TrimSpace(s) == "" {
			return "", errors.New("openrouter: empty content")
		}
		return s, nil
	default:
		return "", fmt.Errorf("openrouter: unexpected content type %T", v)
	}
}

func extractJSONObject(s string) (string, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", errors.New("openrouter: empty content")
	}
	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		return t[start : end+1], nil
	}
	return "", fmt.Errorf("openrouter: could not locate JSON object in: %q", truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	authHeaderRE  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)([^\n\r,;]+)`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	out := s
	if apiKey != "" {
		out = strings.ReplaceAll(out, apiKey, "[REDACTED]")
	}
	out = bearerTokenRE.ReplaceAllString(out, "Bearer [REDACTED]")
	out = authHeaderRE.ReplaceAllString(out, "${1}[REDACTED]")
	out = apiKeyFieldRE.ReplaceAllString(out, "${1}[REDACTED]")
	return out
}
