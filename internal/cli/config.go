package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forPelevin/sessionscribe/internal/pipeline"
)

// loadConfig layers defaults, the --config file, environment and changed flags.
func loadConfig(cmd *cobra.Command) (pipeline.Config, error) {
	cfg := pipeline.Defaults()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		c, err := pipeline.LoadFile(path, cfg)
		if err != nil {
			return pipeline.Config{}, err
		}
		cfg = c
	}

	cfg.OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	cfg.OpenRouterModel = getenvDefault("OPENROUTER_MODEL", cfg.OpenRouterModel)
	cfg.OpenRouterBaseURL = getenvDefault("OPENROUTER_BASE_URL", cfg.OpenRouterBaseURL)
	if hosts := os.Getenv("OPENROUTER_ALLOWED_HOSTS"); hosts != "" {
		cfg.OpenRouterAllowedHosts = strings.Split(hosts, ",")
	}
	cfg.AWSBucket = getenvDefault("SESSIONSCRIBE_AWS_BUCKET", cfg.AWSBucket)

	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Lookup(name) != nil && f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("out", &cfg.OutDir)
	str("cache", &cfg.CacheDir)
	str("asr", &cfg.ASR)
	str("diarizer", &cfg.Diarizer)
	str("ocr", &cfg.OCR)
	str("describer", &cfg.Describer)
	str("asr-file", &cfg.ASRFile)
	str("diarization-file", &cfg.DiarizationFile)
	str("whisper-model", &cfg.WhisperModel)
	str("language", &cfg.Language)
	str("source-url", &cfg.SourceURL)
	str("aws-bucket", &cfg.AWSBucket)
	str("aws-region", &cfg.AWSRegion)

	if f.Lookup("no-slides") != nil && f.Changed("no-slides") {
		noSlides, _ := f.GetBool("no-slides")
		cfg.EnableSlides = !noSlides
	}
	if f.Lookup("phash-threshold") != nil && f.Changed("phash-threshold") {
		cfg.PHashThreshold, _ = f.GetInt("phash-threshold")
	}
	if f.Lookup("scene-threshold") != nil && f.Changed("scene-threshold") {
		cfg.SceneThreshold, _ = f.GetFloat64("scene-threshold")
	}
	if f.Lookup("workers") != nil && f.Changed("workers") {
		cfg.Workers, _ = f.GetInt("workers")
	}
	if f.Lookup("timeout") != nil && f.Changed("timeout") {
		cfg.CollaboratorTimeout, _ = f.GetDuration("timeout")
	}
	if f.Lookup("max-segment") != nil && f.Changed("max-segment") {
		cfg.MaxSegment, _ = f.GetFloat64("max-segment")
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	cfg.Logger = newLogger(verbose)
	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
