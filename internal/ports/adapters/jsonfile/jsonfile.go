// Package jsonfile serves recognition and diarization results that were
// produced out of band and saved as JSON documents.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// ASR reads {language, segments, words} from Path and ignores the audio it is given.
type ASR struct {
	Path  string
	Model string
}

func (a ASR) Transcribe(ctx context.Context, _ string) (types.ASRResult, error) {
	var res types.ASRResult
	if err := decode(ctx, a.Path, &res); err != nil {
		return types.ASRResult{}, err
	}
	if res.Model == "" {
		res.Model = a.Model
	}
	if res.Words == nil {
		res.Words = []types.Word{}
	}
	return res, nil
}

// Diarizer reads {speakers, turns} from Path.
type Diarizer struct {
	Path  string
	Model string
}

func (d Diarizer) Diarize(ctx context.Context, _ string) (types.DiarizationResult, error) {
	var res types.DiarizationResult
	if err := decode(ctx, d.Path, &res); err != nil {
		return types.DiarizationResult{}, err
	}
	if res.Model == "" {
		res.Model = d.Model
	}
	if len(res.Speakers) == 0 {
		seen := map[string]bool{}
		for _, t := range res.Turns {
			if !seen[t.SpeakerLabel] {
				seen[t.SpeakerLabel] = true
				res.Speakers = append(res.Speakers, t.SpeakerLabel)
			}
		}
	}
	return res, nil
}

func decode(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
