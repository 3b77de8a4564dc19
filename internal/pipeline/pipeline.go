package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/forPelevin/sessionscribe/internal/domain/reconcile"
	"github.com/forPelevin/sessionscribe/internal/domain/slides"
	"github.com/forPelevin/sessionscribe/internal/domain/transcript"
	"github.com/forPelevin/sessionscribe/internal/ports"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/awstranscribe"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/jsonfile"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/openrouter"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/proportional"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/tesseract"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/wavprobe"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/sessionscribe/internal/types"
	"github.com/forPelevin/sessionscribe/internal/usecase"
)

// Open wires the configured collaborators into a usecase.
func Open(ctx context.Context, cfg Config) (usecase.Usecase, error) {
	log := logger(cfg)
	baseCache := cfg.CacheDir
	if baseCache == "" {
		baseCache = ".cache"
	}

	deps := usecase.Deps{
		Video:     ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath),
		Probe:     wavprobe.Probe{},
		Realigner: proportional.Realigner{},
		Logger:    log,
	}

	var aws *awstranscribe.Adapter
	if cfg.ASR == "aws" || cfg.Diarizer == "aws" {
		a, err := awstranscribe.NewFromConfig(ctx, awstranscribe.Options{
			Region:       cfg.AWSRegion,
			Bucket:       cfg.AWSBucket,
			LanguageCode: cfg.AWSLanguageCode,
			MaxSpeakers:  cfg.AWSMaxSpeakers,
			Logger:       log,
		})
		if err != nil {
			return usecase.Usecase{}, err
		}
		aws = a
	}

	switch cfg.ASR {
	case "aws":
		deps.ASR = aws
	case "json":
		deps.ASR = jsonfile.ASR{Path: cfg.ASRFile, Model: "json:" + filepath.Base(cfg.ASRFile)}
	default:
		deps.ASR = whispercpp.New(cfg.WhisperBin, cfg.WhisperModel, cfg.Language, filepath.Join(baseCache, "whisper"))
	}
	switch cfg.Diarizer {
	case "aws":
		deps.Diarizer = aws
	case "json":
		deps.Diarizer = jsonfile.Diarizer{Path: cfg.DiarizationFile, Model: "json:" + filepath.Base(cfg.DiarizationFile)}
	}
	if cfg.OCR == "tesseract" {
		deps.OCR = tesseract.New(cfg.TesseractBin, cfg.TesseractLang)
	}
	if cfg.Describer == "openrouter" {
		deps.Describer = openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL)
	}

	return usecase.New(deps, settings(cfg)), nil
}

func settings(cfg Config) usecase.Settings {
	return usecase.Settings{
		Merge: transcript.Options{MaxSegment: cfg.MaxSegment},
		Slides: slides.Options{
			HashThreshold: cfg.PHashThreshold,
			Calibration:   slides.CalibrationOptions{Samples: cfg.CropSamples, Agreement: cfg.CropAgreement},
			Rect:          slides.RectOptions{AspectRatio: cfg.AspectRatio, AspectTolerance: cfg.AspectTolerance},
			Workers:       cfg.Workers,
		},
		Reconcile:      reconcile.Options{MaxChangedFraction: cfg.MaxChangedFraction, MaxShift: cfg.MaxShift},
		EnableSlides:   cfg.EnableSlides,
		SceneThreshold: cfg.SceneThreshold,
		Timeout:        cfg.CollaboratorTimeout,
	}
}

// Run processes cfg.Input into a fresh package directory under cfg.OutDir and
// returns the package and its directory.
func Run(ctx context.Context, cfg Config) (types.Package, string, error) {
	log := logger(cfg)
	uc, err := Open(ctx, cfg)
	if err != nil {
		return types.Package{}, "", err
	}

	jobID := hash(cfg.Input)
	baseCache := cfg.CacheDir
	if baseCache == "" {
		baseCache = ".cache"
	}
	cacheDir := filepath.Join(baseCache, "runs", jobID)
	log.Info("preparing workspace", "cache", cacheDir)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return types.Package{}, "", err
	}

	outDir := cfg.OutDir
	if outDir == "" {
		outDir = "out"
	}
	now := time.Now().UTC()
	runOutDir := buildRunOutDir(outDir, cfg.Input, now)
	log.Info("output run dir", "dir", runOutDir)

	pkg, err := uc.Process(ctx, usecase.ProcessInput{
		Media:   cfg.Input,
		OutDir:  runOutDir,
		WorkDir: cacheDir,
		Source: types.Source{
			Type:         cfg.SourceType,
			URL:          cfg.SourceURL,
			DownloadedAt: now,
			RunID:        uuid.NewString(),
		},
	})
	if err != nil {
		return types.Package{}, "", err
	}
	log.Info("package written", "segments", len(pkg.Transcript.Segments), "slides", len(pkg.Slides), "diagnostics", len(pkg.Diagnostics))
	return pkg, runOutDir, nil
}

func logger(cfg Config) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func buildRunOutDir(outRoot, input string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", input, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var (
	_ ports.VideoTool     = (*ffmpeg.Adapter)(nil)
	_ ports.ASR           = (*whispercpp.Adapter)(nil)
	_ ports.ASR           = (*awstranscribe.Adapter)(nil)
	_ ports.Diarizer      = (*awstranscribe.Adapter)(nil)
	_ ports.ASR           = jsonfile.ASR{}
	_ ports.Diarizer      = jsonfile.Diarizer{}
	_ ports.TextExtractor = (*tesseract.Adapter)(nil)
	_ ports.Describer     = (*openrouter.Adapter)(nil)
	_ ports.Realigner     = proportional.Realigner{}
	_ ports.DurationProbe = wavprobe.Probe{}
)
