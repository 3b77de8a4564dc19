package ports

import (
	"context"

	"github.com/forPelevin/sessionscribe/internal/types"
)

type VideoTool interface {
	ExtractAudio(ctx context.Context, inMedia, outWav string) error
	ExtractFrame(ctx context.Context, inMedia string, at float64, outImage string) error
	DetectSceneChanges(ctx context.Context, inMedia string, threshold float64) ([]float64, error)
	ProbeDuration(ctx context.Context, inMedia string) (float64, error)
	HasVideo(ctx context.Context, inMedia string) (bool, error)
}

type ASR interface {
	Transcribe(ctx context.Context, wavPath string) (types.ASRResult, error)
}

type Diarizer interface {
	Diarize(ctx context.Context, wavPath string) (types.DiarizationResult, error)
}

type TextExtractor interface {
	Name() string
	ExtractText(ctx context.Context, imagePath string) (types.OCRResult, error)
}

type Describer interface {
	Name() string
	// Describe summarises a slide image. An empty prompt selects the default instructions.
	Describe(ctx context.Context, imagePath, ocrText, prompt string) (types.Description, error)
}

type Realigner interface {
	Realign(ctx context.Context, text string, window types.TimeWindow) ([]types.Word, error)
}

type DurationProbe interface {
	Duration(path string) (float64, error)
}
