package awstranscribe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/forPelevin/sessionscribe/internal/types"
)

const modelName = "aws-transcribe"

// result mirrors the JSON document Amazon Transcribe writes to the output bucket.
type result struct {
	JobName string `json:"jobName"`
	Results struct {
		LanguageCode string `json:"language_code"`
		Transcripts  []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		SpeakerLabels struct {
			Speakers int `json:"speakers"`
			Segments []struct {
				StartTime    string `json:"start_time"`
				EndTime      string `json:"end_time"`
				SpeakerLabel string `json:"speaker_label"`
			} `json:"segments"`
		} `json:"speaker_labels"`
		Items []item `json:"items"`
	} `json:"results"`
}

type item struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Type         string `json:"type"`
	SpeakerLabel string `json:"speaker_label"`
	Alternatives []struct {
		Confidence string `json:"confidence"`
		Content    string `json:"content"`
	} `json:"alternatives"`
}

// asr turns pronunciation items into words. Punctuation items carry no
// timing and are glued onto the preceding word.
func (r result) asr() types.ASRResult {
	out := types.ASRResult{Model: modelName, Language: r.Results.LanguageCode, Words: []types.Word{}}
	for _, it := range r.Results.Items {
		if len(it.Alternatives) == 0 {
			continue
		}
		alt := it.Alternatives[0]
		content := strings.TrimSpace(alt.Content)
		if content == "" {
			continue
		}
		if it.Type == "punctuation" {
			if n := len(out.Words); n > 0 {
				out.Words[n-1].Text += content
			}
			continue
		}
		start, err1 := strconv.ParseFloat(it.StartTime, 64)
		end, err2 := strconv.ParseFloat(it.EndTime, 64)
		if err1 != nil || err2 != nil || end <= start {
			continue
		}
		if n := len(out.Words); n > 0 && start < out.Words[n-1].End {
			start = out.Words[n-1].End
			if end <= start {
				continue
			}
		}
		w := types.Word{Start: start, End: end, Text: content}
		if c, err := strconv.ParseFloat(alt.Confidence, 64); err == nil {
			w.Confidence = &c
		}
		out.Words = append(out.Words, w)
	}
	return out
}

func (r result) diarization() (types.DiarizationResult, error) {
	out := types.DiarizationResult{Model: modelName, Turns: []types.Turn{}}
	seen := map[string]bool{}
	for _, s := range r.Results.SpeakerLabels.Segments {
		start, err := strconv.ParseFloat(s.StartTime, 64)
		if err != nil {
			return types.DiarizationResult{}, fmt.Errorf("aws transcribe: bad turn start %q: %w", s.StartTime, err)
		}
		end, err := strconv.ParseFloat(s.EndTime, 64)
		if err != nil {
			return types.DiarizationResult{}, fmt.Errorf("aws transcribe: bad turn end %q: %w", s.EndTime, err)
		}
		if end <= start || s.SpeakerLabel == "" {
			continue
		}
		if !seen[s.SpeakerLabel] {
			seen[s.SpeakerLabel] = true
			out.Speakers = append(out.Speakers, s.SpeakerLabel)
		}
		out.Turns = append(out.Turns, types.Turn{Start: start, End: end, SpeakerLabel: s.SpeakerLabel})
	}
	return out, nil
}
