package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forPelevin/sessionscribe/internal/domain/reconcile"
	"github.com/forPelevin/sessionscribe/internal/pipeline"
	"github.com/forPelevin/sessionscribe/internal/usecase"
	"github.com/forPelevin/sessionscribe/internal/watch"
)

func openPackage(cmd *cobra.Command) (usecase.Usecase, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return usecase.Usecase{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateBackends(); err != nil {
		return usecase.Usecase{}, fmt.Errorf("config: %w", err)
	}
	return pipeline.Open(cmd.Context(), cfg)
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pkgdir>",
		Short: "Check an exported package against its manifest and invariants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openPackage(cmd)
			if err != nil {
				return err
			}
			pkg, err := uc.Verify(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: schema %s, %d segments, %d slides, %d manifest entries\n",
				pkg.SchemaVersion, len(pkg.Transcript.Segments), len(pkg.Slides), len(pkg.Manifest.Hashes))
			return nil
		},
	}
}

func newEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <pkgdir>",
		Short: "Replace the text of one segment and reconcile its word timings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openPackage(cmd)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("segment")
			rev, _ := cmd.Flags().GetInt("revision")
			text, _ := cmd.Flags().GetString("text")
			res, err := uc.Edit(cmd.Context(), args[0], reconcile.EditRequest{SegmentID: id, Revision: rev, Text: text})
			if err != nil {
				return err
			}
			mode := "remapped"
			if res.Realigned {
				mode = "realigned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s revision %d (%s, %.0f%% tokens changed)\n",
				res.Segment.ID, res.Segment.Revision, mode, res.ChangedFraction*100)
			if len(res.Adjusted) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "adjusted neighbours: %s\n", strings.Join(res.Adjusted, ", "))
			}
			return nil
		},
	}
	cmd.Flags().String("segment", "", "Segment id")
	cmd.Flags().Int("revision", 0, "Segment revision the edit is based on")
	cmd.Flags().String("text", "", "New segment text")
	_ = cmd.MarkFlagRequired("segment")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newSpeakerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speaker <pkgdir>",
		Short: "Name a speaker, or move a segment to another speaker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openPackage(cmd)
			if err != nil {
				return err
			}
			label, _ := cmd.Flags().GetString("label")
			name, _ := cmd.Flags().GetString("name")
			seg, _ := cmd.Flags().GetString("segment")
			rev, _ := cmd.Flags().GetInt("revision")

			switch {
			case seg != "":
				s, err := uc.SetSpeaker(args[0], seg, rev, label)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (revision %d)\n", s.ID, s.SpeakerLabel, s.Revision)
			case name != "":
				e, err := uc.RenameSpeaker(args[0], label, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", e.Label, e.DisplayName)
			default:
				return errors.New("either --name or --segment is required")
			}
			return nil
		},
	}
	cmd.Flags().String("label", "", "Speaker label")
	cmd.Flags().String("name", "", "Display name for the label")
	cmd.Flags().String("segment", "", "Segment id to move to --label")
	cmd.Flags().Int("revision", 0, "Segment revision, with --segment")
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func newReslideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reslide <pkgdir>",
		Short: "Rerun text extraction and description for one slide",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := openPackage(cmd)
			if err != nil {
				return err
			}
			index, _ := cmd.Flags().GetInt("index")
			rev, _ := cmd.Flags().GetInt("revision")
			prompt, _ := cmd.Flags().GetString("prompt")
			s, err := uc.ReprocessSlide(cmd.Context(), args[0], index, rev, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slide %d revision %d\n", s.Index, s.Revision)
			if s.Description != nil {
				fmt.Fprintln(cmd.OutOrStdout(), *s.Description)
			}
			for _, b := range s.Bullets {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", b)
			}
			return nil
		},
	}
	cmd.Flags().Int("index", 0, "Slide index")
	cmd.Flags().Int("revision", 0, "Slide revision the request is based on")
	cmd.Flags().String("prompt", "", "Custom description instructions")
	cmd.Flags().String("ocr", "tesseract", "Slide text extraction: tesseract, none")
	cmd.Flags().String("describer", "none", "Slide description: openrouter, none")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <pkgdir>",
		Short: "Report package files that no longer match the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return watch.New(args[0], newLogger(verbose)).Run(ctx, func(r watch.Report) {
				ts := r.At.Format("15:04:05")
				switch {
				case r.Err != nil:
					fmt.Fprintf(out, "%s unreadable package: %v\n", ts, r.Err)
				case len(r.Stale) == 0:
					fmt.Fprintf(out, "%s clean\n", ts)
				default:
					for _, s := range r.Stale {
						if s.Missing {
							fmt.Fprintf(out, "%s missing: %s\n", ts, s.Path)
							continue
						}
						fmt.Fprintf(out, "%s stale: %v\n", ts, s.Err())
					}
				}
			})
		},
	}
}
