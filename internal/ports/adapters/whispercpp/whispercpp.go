package whispercpp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forPelevin/sessionscribe/internal/types"
)

type Adapter struct {
	bin      string
	model    string
	language string
	workDir  string
}

// New returns a whisper.cpp ASR backend. Intermediate JSON goes to workDir.
func New(binPath, modelPath, language, workDir string) *Adapter {
	if language == "" {
		language = "auto"
	}
	return &Adapter{bin: binPath, model: modelPath, language: language, workDir: workDir}
}

// Transcribe runs whisper.cpp with one word per segment so every segment
// carries word-level offsets.
func (a *Adapter) Transcribe(ctx context.Context, wavPath string) (types.ASRResult, error) {
	if err := os.MkdirAll(a.workDir, 0o755); err != nil {
		return types.ASRResult{}, err
	}
	outPrefix := filepath.Join(a.workDir, "whisper")
	args := []string{
		"-m", a.model,
		"-f", wavPath,
		"-l", a.language,
		"-ml", "1",
		"-sow",
		"-ojf",
		"-of", outPrefix,
		"-np",
	}
	cmd := exec.CommandContext(ctx, a.bin, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return types.ASRResult{}, fmt.Errorf("whisper.cpp failed: %w\n%s", err, string(b))
	}

	jb, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return types.ASRResult{}, err
	}
	res, err := parseFullJSON(jb)
	if err != nil {
		return types.ASRResult{}, err
	}
	res.Model = modelName(a.model)
	return res, nil
}

type fullJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets offsets `json:"offsets"`
		Text    string  `json:"text"`
		Tokens  []token `json:"tokens"`
	} `json:"transcription"`
}

type token struct {
	Text string  `json:"text"`
	P    float64 `json:"p"`
}

type offsets struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// parseFullJSON converts whisper.cpp -ojf output. Word starts are pushed past
// the previous word's end and empty intervals dropped, since the decoder may
// emit touching or zero-length tokens.
func parseFullJSON(b []byte) (types.ASRResult, error) {
	var doc fullJSON
	if err := json.Unmarshal(b, &doc); err != nil {
		return types.ASRResult{}, fmt.Errorf("decode whisper json: %w", err)
	}
	res := types.ASRResult{Language: doc.Result.Language, Words: []types.Word{}, Segments: []types.ASRSegment{}}
	prevEnd := 0.0
	for _, tr := range doc.Transcription {
		text := strings.TrimSpace(tr.Text)
		if text == "" || isSpecial(text) {
			continue
		}
		start := float64(tr.Offsets.From) / 1000
		end := float64(tr.Offsets.To) / 1000
		res.Segments = append(res.Segments, types.ASRSegment{Start: start, End: end, Text: text})

		if start < prevEnd {
			start = prevEnd
		}
		if end <= start {
			continue
		}
		w := types.Word{Start: start, End: end, Text: text}
		if p, ok := meanProb(tr.Tokens); ok {
			w.Confidence = &p
		}
		res.Words = append(res.Words, w)
		prevEnd = end
	}
	return res, nil
}

func meanProb(tokens []token) (float64, bool) {
	sum, n := 0.0, 0
	for _, t := range tokens {
		if isSpecial(strings.TrimSpace(t.Text)) {
			continue
		}
		sum += t.P
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func isSpecial(s string) bool {
	return strings.HasPrefix(s, "[_") || (strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

func modelName(path string) string {
	n := filepath.Base(path)
	n = strings.TrimSuffix(n, filepath.Ext(n))
	return strings.TrimPrefix(n, "ggml-")
}
