package slides

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/forPelevin/sessionscribe/internal/ports"
	"github.com/forPelevin/sessionscribe/internal/types"
)

type Options struct {
	HashThreshold int
	Calibration   CalibrationOptions
	Rect          RectOptions
	// Duration bounds candidate timestamps when positive.
	Duration    float64
	Workers     int
	Timeout     time.Duration
	JPEGQuality int
}

func (o Options) withDefaults() Options {
	if o.HashThreshold < 0 {
		o.HashThreshold = 0
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.JPEGQuality <= 0 {
		o.JPEGQuality = 90
	}
	o.Calibration = o.Calibration.withDefaults()
	o.Rect = o.Rect.withDefaults()
	return o
}

type Pipeline struct {
	opts      Options
	ocr       ports.TextExtractor
	describer ports.Describer
	hash      func(image.Image) (uint64, error)
}

// New builds a slide pipeline. ocr and describer may be nil to skip that annotation.
func New(opts Options, ocr ports.TextExtractor, describer ports.Describer) *Pipeline {
	return &Pipeline{
		opts:      opts.withDefaults(),
		ocr:       ocr,
		describer: describer,
		hash:      PerceptualHash,
	}
}

type Result struct {
	Slides      []types.Slide
	Crop        *types.Rect
	Diagnostics []types.Diagnostic
}

type frame struct {
	cand types.SlideCandidate
	hash uint64
}

// Run deduplicates candidates, calibrates a crop rectangle, writes the kept
// slide images under root/slides and annotates them.
func (p *Pipeline) Run(ctx context.Context, cands []types.SlideCandidate, root string) (Result, error) {
	for i := 1; i < len(cands); i++ {
		if cands[i].Timestamp < cands[i-1].Timestamp {
			return Result{}, &types.DataIntegrityError{Stream: "slide candidates", Index: i, Reason: "not sorted by timestamp"}
		}
	}

	var (
		res    Result
		frames []frame
	)
	for _, c := range cands {
		if c.Timestamp < 0 || (p.opts.Duration > 0 && c.Timestamp > p.opts.Duration) {
			res.Diagnostics = append(res.Diagnostics, types.Diagnostic{
				Stage: "slides", Subject: c.FramePath,
				Message: fmt.Sprintf("timestamp %.3f outside media", c.Timestamp),
			})
			continue
		}
		img, err := imaging.Open(c.FramePath)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, types.Diagnostic{Stage: "slides", Subject: c.FramePath, Message: err.Error()})
			continue
		}
		h, err := p.hash(img)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, types.Diagnostic{Stage: "slides", Subject: c.FramePath, Message: err.Error()})
			continue
		}
		frames = append(frames, frame{cand: c, hash: h})
	}

	hashes := make([]uint64, len(frames))
	for i, f := range frames {
		hashes[i] = f.hash
	}
	var kept []frame
	for _, i := range Dedup(hashes, p.opts.HashThreshold) {
		kept = append(kept, frames[i])
	}
	if len(kept) == 0 {
		res.Slides = []types.Slide{}
		return res, nil
	}

	crop, err := p.calibrate(kept)
	if err != nil {
		return Result{}, err
	}
	res.Crop = crop

	if err := os.MkdirAll(filepath.Join(root, "slides"), 0o755); err != nil {
		return Result{}, err
	}
	res.Slides = make([]types.Slide, len(kept))
	for i, f := range kept {
		rel := filepath.ToSlash(filepath.Join("slides", fmt.Sprintf("slide_%03d.jpg", i)))
		if err := p.writeSlide(f.cand.FramePath, filepath.Join(root, filepath.FromSlash(rel)), crop); err != nil {
			return Result{}, fmt.Errorf("write slide %d: %w", i, err)
		}
		s := types.Slide{
			Index:          i,
			Timestamp:      f.cand.Timestamp,
			ImagePath:      rel,
			PerceptualHash: FormatHash(f.hash),
		}
		if crop != nil {
			c := *crop
			s.CropRect = &c
		}
		res.Slides[i] = s
	}

	diags := make([][]types.Diagnostic, len(res.Slides))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range res.Slides {
		i := i
		g.Go(func() error {
			diags[i] = p.annotate(gctx, root, &res.Slides[i], "")
			return nil
		})
	}
	_ = g.Wait()
	for _, d := range diags {
		res.Diagnostics = append(res.Diagnostics, d...)
	}
	return res, nil
}

// Reprocess reruns text extraction and description for an existing slide image.
func (p *Pipeline) Reprocess(ctx context.Context, root string, s types.Slide, prompt string) (types.Slide, []types.Diagnostic) {
	s.OCR = nil
	s.Description = nil
	s.Bullets = nil
	diags := p.annotate(ctx, root, &s, prompt)
	return s, diags
}

func (p *Pipeline) calibrate(kept []frame) (*types.Rect, error) {
	n := min(p.opts.Calibration.Samples, len(kept))
	if n < p.opts.Calibration.MinSamples {
		return nil, nil
	}
	var (
		rects          []*types.Rect
		frameW, frameH int
	)
	for i := 0; i < n; i++ {
		img, err := imaging.Open(kept[i].cand.FramePath)
		if err != nil {
			return nil, fmt.Errorf("reopen frame: %w", err)
		}
		b := img.Bounds()
		if i == 0 {
			frameW, frameH = b.Dx(), b.Dy()
		}
		if b.Dx() != frameW || b.Dy() != frameH {
			rects = append(rects, nil)
			continue
		}
		if r, ok := DetectRect(img, p.opts.Rect); ok {
			rects = append(rects, &r)
		} else {
			rects = append(rects, nil)
		}
	}
	r, ok := Calibrate(rects, frameW, frameH, p.opts.Calibration)
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (p *Pipeline) writeSlide(src, dst string, crop *types.Rect) error {
	img, err := imaging.Open(src)
	if err != nil {
		return err
	}
	if crop != nil {
		cr := image.Rect(crop.X, crop.Y, crop.X+crop.Width, crop.Y+crop.Height)
		if cr.In(img.Bounds()) {
			img = imaging.Crop(img, cr)
		}
	}
	return imaging.Save(img, dst, imaging.JPEGQuality(p.opts.JPEGQuality))
}

func (p *Pipeline) annotate(ctx context.Context, root string, s *types.Slide, prompt string) []types.Diagnostic {
	path := filepath.Join(root, filepath.FromSlash(s.ImagePath))
	subject := fmt.Sprintf("slide %d", s.Index)
	var diags []types.Diagnostic

	ocrText := ""
	if p.ocr != nil {
		cctx, cancel := withTimeout(ctx, p.opts.Timeout)
		res, err := p.ocr.ExtractText(cctx, path)
		cancel()
		if err != nil {
			f := &types.CollaboratorFailure{Collaborator: p.ocr.Name(), Op: "extract text", Err: err}
			diags = append(diags, types.Diagnostic{Stage: "ocr", Subject: subject, Message: f.Error()})
		} else {
			s.OCR = &res
			ocrText = res.Text
		}
	}

	if p.describer != nil {
		cctx, cancel := withTimeout(ctx, p.opts.Timeout)
		d, err := p.describer.Describe(cctx, path, ocrText, prompt)
		cancel()
		if err != nil {
			f := &types.CollaboratorFailure{Collaborator: p.describer.Name(), Op: "describe", Err: err}
			diags = append(diags, types.Diagnostic{Stage: "description", Subject: subject, Message: f.Error()})
		} else {
			desc := d.Description
			s.Description = &desc
			s.Bullets = d.Bullets
		}
	}
	return diags
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
