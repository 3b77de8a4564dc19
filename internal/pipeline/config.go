package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/sessionscribe/internal/ports/adapters/openrouter"
)

// Config is built once by the CLI, starting from Defaults, and passed down explicitly.
type Config struct {
	Input    string       `yaml:"-"`
	OutDir   string       `yaml:"out_dir"`
	CacheDir string       `yaml:"cache_dir"`
	Logger   *slog.Logger `yaml:"-"`

	SourceType string `yaml:"source_type"`
	SourceURL  string `yaml:"source_url"`

	ASR       string `yaml:"asr"`
	Diarizer  string `yaml:"diarizer"`
	OCR       string `yaml:"ocr_engine"`
	Describer string `yaml:"describer"`

	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	WhisperBin   string `yaml:"whisper_bin"`
	WhisperModel string `yaml:"whisper_model"`
	Language     string `yaml:"language"`

	// ASRFile and DiarizationFile feed the json backends.
	ASRFile         string `yaml:"asr_file"`
	DiarizationFile string `yaml:"diarization_file"`

	TesseractBin  string `yaml:"tesseract_bin"`
	TesseractLang string `yaml:"tesseract_lang"`

	AWSRegion       string `yaml:"aws_region"`
	AWSBucket       string `yaml:"aws_bucket"`
	AWSLanguageCode string `yaml:"aws_language_code"`
	AWSMaxSpeakers  int    `yaml:"aws_max_speakers"`

	OpenRouterAPIKey       string   `yaml:"-"`
	OpenRouterModel        string   `yaml:"openrouter_model"`
	OpenRouterBaseURL      string   `yaml:"openrouter_base_url"`
	OpenRouterAllowedHosts []string `yaml:"openrouter_allowed_hosts"`

	EnableSlides    bool    `yaml:"enable_slides"`
	PHashThreshold  int     `yaml:"phash_threshold"`
	SceneThreshold  float64 `yaml:"scene_threshold"`
	CropSamples     int     `yaml:"crop_samples"`
	CropAgreement   float64 `yaml:"crop_agreement"`
	AspectRatio     float64 `yaml:"aspect_ratio"`
	AspectTolerance float64 `yaml:"aspect_tolerance"`

	MaxSegment         float64 `yaml:"max_segment_sec"`
	MaxChangedFraction float64 `yaml:"max_changed_fraction"`
	MaxShift           float64 `yaml:"max_shift_sec"`

	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
	Workers             int           `yaml:"workers"`
}

func Defaults() Config {
	return Config{
		OutDir:              "out",
		CacheDir:            ".cache",
		SourceType:          "local",
		ASR:                 "whispercpp",
		Diarizer:            "none",
		OCR:                 "tesseract",
		Describer:           "none",
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		WhisperBin:          ".cache/bin/whisper.cpp",
		WhisperModel:        ".cache/models/ggml-base.bin",
		TesseractBin:        "tesseract",
		TesseractLang:       "eng",
		AWSMaxSpeakers:      10,
		OpenRouterBaseURL:   "https://openrouter.ai",
		EnableSlides:        true,
		PHashThreshold:      8,
		SceneThreshold:      0.3,
		CropSamples:         5,
		CropAgreement:       0.8,
		AspectRatio:         16.0 / 9.0,
		AspectTolerance:     0.15,
		MaxSegment:          20,
		MaxChangedFraction:  0.20,
		MaxShift:            0.5,
		CollaboratorTimeout: 5 * time.Minute,
		Workers:             4,
	}
}

// LoadFile overlays the YAML file at path onto base. Unknown keys are rejected.
func LoadFile(path string, base Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	cfg := base
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

var backends = map[string][]string{
	"asr":       {"whispercpp", "aws", "json"},
	"diarizer":  {"none", "aws", "json"},
	"ocr":       {"tesseract", "none"},
	"describer": {"openrouter", "none"},
}

// Validate checks a config for processing media.
func (c Config) Validate() error {
	if c.Input == "" {
		return errors.New("input is empty")
	}
	if _, err := os.Stat(c.Input); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if err := c.ValidateBackends(); err != nil {
		return err
	}
	switch {
	case c.PHashThreshold < 0 || c.PHashThreshold > 64:
		return fmt.Errorf("phash threshold must be within [0,64]")
	case c.SceneThreshold <= 0 || c.SceneThreshold >= 1:
		return fmt.Errorf("scene threshold must be within (0,1)")
	case c.CropAgreement <= 0 || c.CropAgreement > 1:
		return fmt.Errorf("crop agreement must be within (0,1]")
	case c.MaxSegment <= 0:
		return fmt.Errorf("max segment must be > 0")
	case c.Workers <= 0:
		return fmt.Errorf("workers must be > 0")
	}
	if c.ASR == "whispercpp" && c.WhisperModel == "" {
		return fmt.Errorf("whisper model path is required")
	}
	return nil
}

// ValidateBackends checks the collaborator selection, which is all the
// editing commands need.
func (c Config) ValidateBackends() error {
	sel := map[string]string{"asr": c.ASR, "diarizer": c.Diarizer, "ocr": c.OCR, "describer": c.Describer}
	for kind, allowed := range backends {
		if !slices.Contains(allowed, sel[kind]) {
			return fmt.Errorf("unknown %s backend %q (want one of %v)", kind, sel[kind], allowed)
		}
	}
	if c.ASR == "json" && c.ASRFile == "" {
		return errors.New("asr backend json needs asr_file")
	}
	if c.Diarizer == "json" && c.DiarizationFile == "" {
		return errors.New("diarizer backend json needs diarization_file")
	}
	if (c.ASR == "aws" || c.Diarizer == "aws") && c.AWSBucket == "" {
		return errors.New("aws backend needs aws_bucket")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("collaborator timeout must be > 0")
	}
	if c.MaxChangedFraction <= 0 || c.MaxChangedFraction > 1 {
		return fmt.Errorf("max changed fraction must be within (0,1]")
	}
	if c.Describer == "openrouter" {
		if c.OpenRouterAPIKey == "" {
			return errors.New("OPENROUTER_API_KEY is required for the openrouter describer (set it in .env)")
		}
		return openrouter.ValidateBaseURL(c.OpenRouterBaseURL, c.OpenRouterAllowedHosts)
	}
	return nil
}
