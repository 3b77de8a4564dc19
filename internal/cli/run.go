package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/sessionscribe/internal/pipeline"
)

func newProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <media>",
		Short: "Transcribe, diarize and extract slides from a local media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}

	// Visible flags
	cmd.Flags().String("out", "out", "Output directory")
	cmd.Flags().String("cache", ".cache", "Cache directory for audio, frames and backend output")
	cmd.Flags().String("asr", "whispercpp", "ASR backend: whispercpp, aws, json")
	cmd.Flags().String("diarizer", "none", "Diarization backend: none, aws, json")
	cmd.Flags().String("ocr", "tesseract", "Slide text extraction: tesseract, none")
	cmd.Flags().String("describer", "none", "Slide description: openrouter, none")
	cmd.Flags().String("asr-file", "", "ASR result JSON for --asr json")
	cmd.Flags().String("diarization-file", "", "Diarization result JSON for --diarizer json")
	cmd.Flags().String("whisper-model", "", "whisper.cpp model path")
	cmd.Flags().String("language", "", "Spoken language hint")
	cmd.Flags().String("source-url", "", "Where the media was obtained, recorded in the package")
	cmd.Flags().String("aws-bucket", "", "S3 bucket for the aws backend")
	cmd.Flags().String("aws-region", "", "AWS region for the aws backend")
	cmd.Flags().Bool("no-slides", false, "Skip slide extraction")
	cmd.Flags().Int("phash-threshold", 8, "Max perceptual-hash distance for duplicate slides")
	cmd.Flags().Float64("scene-threshold", 0.3, "Scene change sensitivity in (0,1)")
	cmd.Flags().Int("workers", 4, "Parallel slide annotation workers")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Timeout for each collaborator call")

	// Hidden tuning flag (internal)
	cmd.Flags().Float64("max-segment", 20, "Max segment duration seconds")
	_ = cmd.Flags().MarkHidden("max-segment")
	return cmd
}

func run(cmd *cobra.Command, input string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	cfg.Input = absIn

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Hour)
	defer cancel()

	pkg, dir, err := pipeline.Run(ctx, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n  segments: %d\n  speakers: %d\n  slides: %d\n  diagnostics: %d\n",
		dir, len(pkg.Transcript.Segments), len(pkg.Speakers), len(pkg.Slides), len(pkg.Diagnostics))
	return nil
}
