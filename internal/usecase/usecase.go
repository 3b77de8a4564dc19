package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/sessionscribe/internal/domain/pack"
	"github.com/forPelevin/sessionscribe/internal/domain/reconcile"
	"github.com/forPelevin/sessionscribe/internal/domain/slides"
	"github.com/forPelevin/sessionscribe/internal/domain/subtitles"
	"github.com/forPelevin/sessionscribe/internal/domain/transcript"
	"github.com/forPelevin/sessionscribe/internal/ports"
	"github.com/forPelevin/sessionscribe/internal/types"
)

const (
	assFile = "transcript.ass"
	srtFile = "transcript.srt"
)

// Deps are the collaborators. Diarizer, OCR, Describer and Probe are optional.
type Deps struct {
	Video     ports.VideoTool
	Probe     ports.DurationProbe
	ASR       ports.ASR
	Diarizer  ports.Diarizer
	OCR       ports.TextExtractor
	Describer ports.Describer
	Realigner ports.Realigner
	Logger    *slog.Logger
}

type Settings struct {
	Merge          transcript.Options
	Slides         slides.Options
	Reconcile      reconcile.Options
	EnableSlides   bool
	SceneThreshold float64
	// Timeout bounds every single collaborator call.
	Timeout time.Duration
}

type Usecase struct {
	d   Deps
	s   Settings
	log *slog.Logger
}

func New(d Deps, s Settings) Usecase {
	log := d.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.SceneThreshold <= 0 {
		s.SceneThreshold = 0.3
	}
	s.Slides.Timeout = s.Timeout
	return Usecase{d: d, s: s, log: log}
}

type ProcessInput struct {
	Media string
	// OutDir is the package directory.
	OutDir string
	// WorkDir holds intermediate audio and frames.
	WorkDir string
	Source  types.Source
}

// Process runs the full pipeline over one media file and exports the package to in.OutDir.
func (u Usecase) Process(ctx context.Context, in ProcessInput) (types.Package, error) {
	for _, d := range []string{in.OutDir, in.WorkDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return types.Package{}, err
		}
	}

	wav := filepath.Join(in.WorkDir, "audio.wav")
	u.log.Info("extracting audio", "media", in.Media)
	if err := u.d.Video.ExtractAudio(ctx, in.Media, wav); err != nil {
		return types.Package{}, err
	}
	duration, err := u.duration(ctx, in.Media, wav)
	if err != nil {
		return types.Package{}, err
	}

	var d diagnostics
	hasVideo, err := u.d.Video.HasVideo(ctx, in.Media)
	if err != nil {
		d.add(u.log, "probe", in.Media, err)
		hasVideo = false
	}

	var (
		asr    types.ASRResult
		dia    types.DiarizationResult
		synth  bool
		slideR slides.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		asr = u.transcribe(gctx, wav, &d)
		return nil
	})
	g.Go(func() error {
		dia, synth = u.diarize(gctx, wav, duration, &d)
		return nil
	})
	if u.s.EnableSlides && hasVideo {
		g.Go(func() error {
			r, err := u.slides(gctx, in, duration, &d)
			slideR = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return types.Package{}, err
	}

	merged, err := transcript.Merge(asr.Words, dia.Turns, u.s.Merge)
	if err != nil {
		return types.Package{}, fmt.Errorf("merge: %w", err)
	}
	if synth {
		for i := range merged.Speakers {
			if merged.Speakers[i].Label == transcript.SyntheticLabel {
				merged.Speakers[i].Method = types.MethodSynthetic
			}
		}
	}
	u.log.Info("transcript merged", "segments", len(merged.Segments), "speakers", len(merged.Speakers), "slides", len(slideR.Slides))

	src := in.Source
	src.MediaFile = in.Media
	src.DurationSec = duration
	src.HasVideo = hasVideo

	d.list = append(d.list, slideR.Diagnostics...)
	pkg := types.Package{
		Source: src,
		Transcript: types.Transcript{
			Model:            asr.Model,
			DiarizationModel: dia.Model,
			Language:         asr.Language,
			Segments:         merged.Segments,
		},
		Slides:      slideR.Slides,
		Speakers:    merged.Speakers,
		Diagnostics: d.list,
	}
	if err := u.save(in.OutDir, pkg); err != nil {
		return types.Package{}, err
	}
	return pack.Load(in.OutDir)
}

func (u Usecase) duration(ctx context.Context, media, wav string) (float64, error) {
	if u.d.Probe != nil {
		d, err := u.d.Probe.Duration(wav)
		if err == nil && d > 0 {
			return d, nil
		}
		u.log.Debug("wav probe failed, asking ffprobe", "err", err)
	}
	d, err := u.d.Video.ProbeDuration(ctx, media)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	return d, nil
}

func (u Usecase) transcribe(ctx context.Context, wav string, d *diagnostics) types.ASRResult {
	cctx, cancel := u.withTimeout(ctx)
	defer cancel()
	u.log.Info("transcribing")
	res, err := u.d.ASR.Transcribe(cctx, wav)
	if err != nil {
		d.add(u.log, "asr", wav, &types.CollaboratorFailure{Collaborator: "asr", Op: "transcribe", Err: err})
		return types.ASRResult{Words: []types.Word{}}
	}
	return res
}

// diarize falls back to one synthetic speaker spanning the media when the
// diarizer is missing or fails.
func (u Usecase) diarize(ctx context.Context, wav string, duration float64, d *diagnostics) (types.DiarizationResult, bool) {
	synthetic := types.DiarizationResult{
		Model:    "synthetic",
		Speakers: []string{transcript.SyntheticLabel},
		Turns:    transcript.SyntheticTurns(duration),
	}
	if u.d.Diarizer == nil {
		return synthetic, true
	}
	cctx, cancel := u.withTimeout(ctx)
	defer cancel()
	u.log.Info("diarizing")
	res, err := u.d.Diarizer.Diarize(cctx, wav)
	if err != nil {
		d.add(u.log, "diarization", wav, &types.CollaboratorFailure{Collaborator: "diarizer", Op: "diarize", Err: err})
		return synthetic, true
	}
	return res, false
}

func (u Usecase) slides(ctx context.Context, in ProcessInput, duration float64, d *diagnostics) (slides.Result, error) {
	cctx, cancel := u.withTimeout(ctx)
	changes, err := u.d.Video.DetectSceneChanges(cctx, in.Media, u.s.SceneThreshold)
	cancel()
	if err != nil {
		d.add(u.log, "slides", in.Media, &types.CollaboratorFailure{Collaborator: "scene detector", Op: "detect", Err: err})
		changes = nil
	}
	times := candidateTimes(changes, duration)
	u.log.Info("extracting slide candidates", "count", len(times))

	framesDir := filepath.Join(in.WorkDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return slides.Result{}, err
	}
	cands := make([]types.SlideCandidate, 0, len(times))
	for i, ts := range times {
		out := filepath.Join(framesDir, fmt.Sprintf("frame_%04d.jpg", i))
		cctx, cancel := u.withTimeout(ctx)
		err := u.d.Video.ExtractFrame(cctx, in.Media, ts, out)
		cancel()
		if err != nil {
			d.add(u.log, "slides", fmt.Sprintf("frame %.3f", ts), err)
			continue
		}
		cands = append(cands, types.SlideCandidate{Timestamp: ts, FramePath: out})
	}

	opts := u.s.Slides
	opts.Duration = duration
	return slides.New(opts, u.d.OCR, u.d.Describer).Run(ctx, cands, in.OutDir)
}

// candidateTimes puts the opening frame first and keeps detected changes
// that are strictly increasing and inside the media.
func candidateTimes(changes []float64, duration float64) []float64 {
	out := []float64{0}
	for _, t := range changes {
		if t <= out[len(out)-1] || (duration > 0 && t >= duration) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Edit applies a text edit to one segment of the exported package at root.
func (u Usecase) Edit(ctx context.Context, root string, req reconcile.EditRequest) (reconcile.EditResult, error) {
	pkg, p, err := u.open(root)
	if err != nil {
		return reconcile.EditResult{}, err
	}
	res, err := p.Edit(ctx, req)
	if err != nil {
		return reconcile.EditResult{}, err
	}
	u.log.Info("segment edited", "segment", req.SegmentID, "revision", res.Segment.Revision,
		"changed", res.ChangedFraction, "realigned", res.Realigned, "adjusted", res.Adjusted)
	return res, u.commit(root, pkg, p)
}

// SetSpeaker moves one segment to another speaker label.
func (u Usecase) SetSpeaker(root, segmentID string, revision int, label string) (types.Segment, error) {
	pkg, p, err := u.open(root)
	if err != nil {
		return types.Segment{}, err
	}
	seg, err := p.SetSpeaker(segmentID, revision, label)
	if err != nil {
		return types.Segment{}, err
	}
	return seg, u.commit(root, pkg, p)
}

func (u Usecase) RenameSpeaker(root, label, displayName string) (types.SpeakerEntry, error) {
	pkg, p, err := u.open(root)
	if err != nil {
		return types.SpeakerEntry{}, err
	}
	e, err := p.RenameSpeaker(label, displayName)
	if err != nil {
		return types.SpeakerEntry{}, err
	}
	return e, u.commit(root, pkg, p)
}

// ReprocessSlide reruns text extraction and description of one slide, using
// prompt in place of the default description instructions when set.
func (u Usecase) ReprocessSlide(ctx context.Context, root string, index, revision int, prompt string) (types.Slide, error) {
	pkg, p, err := u.open(root)
	if err != nil {
		return types.Slide{}, err
	}
	var cur *types.Slide
	for _, s := range p.Snapshot().Slides {
		if s.Index == index {
			cur = &s
			break
		}
	}
	if cur == nil {
		return types.Slide{}, fmt.Errorf("%w: %d", types.ErrUnknownSlide, index)
	}

	fresh, diags := slides.New(u.s.Slides, u.d.OCR, u.d.Describer).Reprocess(ctx, root, *cur, prompt)
	for _, dg := range diags {
		u.log.Warn("slide annotation degraded", "stage", dg.Stage, "subject", dg.Subject, "err", dg.Message)
	}
	s, err := p.UpdateSlide(index, revision, func(s *types.Slide) {
		s.OCR = fresh.OCR
		s.Description = fresh.Description
		s.Bullets = fresh.Bullets
	})
	if err != nil {
		return types.Slide{}, err
	}
	pkg.Diagnostics = append(pkg.Diagnostics, diags...)
	return s, u.commit(root, pkg, p)
}

// Verify loads the package at root, which checks schema and manifest, and
// then runs the pre-export validation.
func (u Usecase) Verify(root string) (types.Package, error) {
	pkg, err := pack.Load(root)
	if err != nil {
		return types.Package{}, err
	}
	return pkg, pack.Validate(pkg, root)
}

func (u Usecase) open(root string) (types.Package, *reconcile.Project, error) {
	pkg, err := pack.Load(root)
	if err != nil {
		return types.Package{}, nil, err
	}
	p, err := reconcile.NewProject(reconcile.State{
		Segments: pkg.Transcript.Segments,
		Slides:   pkg.Slides,
		Speakers: pkg.Speakers,
	}, u.d.Realigner, u.s.Reconcile, u.s.Timeout)
	if err != nil {
		return types.Package{}, nil, err
	}
	return pkg, p, nil
}

func (u Usecase) commit(root string, pkg types.Package, p *reconcile.Project) error {
	st := p.Snapshot()
	pkg.Transcript.Segments = st.Segments
	pkg.Slides = st.Slides
	pkg.Speakers = st.Speakers
	return u.save(root, pkg)
}

// save renders the subtitle artifacts, rebuilds the manifest and exports.
func (u Usecase) save(root string, pkg types.Package) error {
	segs, speakers := pkg.Transcript.Segments, pkg.Speakers
	if err := writeFile(filepath.Join(root, assFile), []byte(subtitles.RenderASS(segs, speakers))); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(root, srtFile), []byte(subtitles.RenderSRT(segs, speakers))); err != nil {
		return err
	}
	out, err := pack.Assemble(pack.Input{
		Root:        root,
		Source:      pkg.Source,
		Transcript:  pkg.Transcript,
		Slides:      pkg.Slides,
		Speakers:    pkg.Speakers,
		Diagnostics: pkg.Diagnostics,
		Artifacts:   []string{assFile, srtFile},
	})
	if err != nil {
		return err
	}
	if err := pack.Export(root, out); err != nil {
		return err
	}
	u.log.Info("package exported", "dir", root, "artifacts", len(out.Manifest.Hashes))
	return nil
}

func (u Usecase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.s.Timeout)
}

func writeFile(path string, b []byte) error {
	return os.WriteFile(path, b, 0o644)
}
