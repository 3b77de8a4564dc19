package slides

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/forPelevin/sessionscribe/internal/types"
)

func TestDedup_KeepsFirstOfNearDuplicateRun(t *testing.T) {
	distinct := uint64(0xFFFF) << 32
	hashes := []uint64{
		0,
		0b11111, // distance 5 from the first
		0b10111, // distance 4 from the first
		distinct,
		distinct ^ 0xF,
	}
	got := Dedup(hashes, 8)
	want := []int{0, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	for i := 1; i < len(got); i++ {
		if Distance(hashes[got[i-1]], hashes[got[i]]) <= 8 {
			t.Fatalf("kept slides %d and %d are near duplicates", got[i-1], got[i])
		}
	}
}

func TestDedup_ComparesAgainstLastKept(t *testing.T) {
	// Each step drifts by 5 bits from its predecessor but 10 from the kept reference.
	hashes := []uint64{0, 0b11111, 0b1111111111}
	got := Dedup(hashes, 8)
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("unexpected kept set %v", got)
	}
}

func TestFormatParseHash(t *testing.T) {
	h := uint64(0xdeadbeef01234567)
	got, err := ParseHash(FormatHash(h))
	if err != nil || got != h {
		t.Fatalf("round trip failed: %x %v", got, err)
	}
}

func framedImage(w, h int, r image.Rectangle) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.Draw(img, r, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func TestDetectRect_FindsSlideArea(t *testing.T) {
	img := framedImage(640, 480, image.Rect(100, 120, 420, 300))
	r, ok := DetectRect(img, RectOptions{})
	if !ok {
		t.Fatalf("expected a rectangle")
	}
	within := func(got, want int) bool { return got >= want-3 && got <= want+3 }
	if !within(r.X, 100) || !within(r.Y, 120) || !within(r.Width, 320) || !within(r.Height, 180) {
		t.Fatalf("unexpected rectangle %+v", r)
	}
}

func TestDetectRect_UniformFrame(t *testing.T) {
	img := framedImage(640, 480, image.Rectangle{})
	if r, ok := DetectRect(img, RectOptions{}); ok {
		t.Fatalf("expected no rectangle, got %+v", r)
	}
}

func TestDetectRect_RejectsWrongAspect(t *testing.T) {
	img := framedImage(640, 480, image.Rect(100, 100, 300, 400))
	if r, ok := DetectRect(img, RectOptions{}); ok {
		t.Fatalf("expected portrait rectangle to be rejected, got %+v", r)
	}
}

func TestCalibrate(t *testing.T) {
	r := func(x, y, w, h int) *types.Rect { return &types.Rect{X: x, Y: y, Width: w, Height: h} }
	tests := []struct {
		name  string
		rects []*types.Rect
		want  bool
	}{
		{"all agree", []*types.Rect{r(100, 120, 320, 180), r(101, 119, 321, 180), r(100, 120, 318, 181), r(99, 121, 320, 180), r(100, 120, 320, 180)}, true},
		{"four of five", []*types.Rect{r(100, 120, 320, 180), r(100, 120, 320, 180), nil, r(100, 120, 320, 180), r(100, 120, 320, 180)}, true},
		{"three of five", []*types.Rect{r(100, 120, 320, 180), nil, nil, r(100, 120, 320, 180), r(100, 120, 320, 180)}, false},
		{"disagree", []*types.Rect{r(100, 120, 320, 180), r(10, 10, 600, 338), r(100, 120, 320, 180), r(10, 10, 600, 338), r(200, 200, 160, 90)}, false},
		{"too few samples", []*types.Rect{r(100, 120, 320, 180), r(100, 120, 320, 180)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Calibrate(tt.rects, 640, 480, CalibrationOptions{Samples: 5})
			if ok != tt.want {
				t.Fatalf("got %v, want %v", ok, tt.want)
			}
		})
	}
}

type fakeOCR struct {
	err   error
	calls int
}

func (f *fakeOCR) Name() string { return "fake-ocr" }

func (f *fakeOCR) ExtractText(_ context.Context, _ string) (types.OCRResult, error) {
	f.calls++
	if f.err != nil {
		return types.OCRResult{}, f.err
	}
	return types.OCRResult{Engine: "fake", Text: "Agenda", Confidence: 0.9}, nil
}

type fakeDescriber struct {
	prompts []string
}

func (f *fakeDescriber) Name() string { return "fake-vlm" }

func (f *fakeDescriber) Describe(_ context.Context, _, ocrText, prompt string) (types.Description, error) {
	f.prompts = append(f.prompts, prompt)
	return types.Description{Description: "slide about " + ocrText, Bullets: []string{"one"}}, nil
}

func writeFrames(t *testing.T, dir string, n int, rect image.Rectangle) []types.SlideCandidate {
	t.Helper()
	var out []types.SlideCandidate
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, "frames", "f"+string(rune('a'+i))+".png")
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := imaging.Save(framedImage(640, 480, rect), p); err != nil {
			t.Fatalf("save frame: %v", err)
		}
		out = append(out, types.SlideCandidate{Timestamp: float64(i * 10), FramePath: p})
	}
	return out
}

func TestPipelineRun_DedupsCropsAndDegrades(t *testing.T) {
	root := t.TempDir()
	cands := writeFrames(t, root, 5, image.Rect(100, 120, 420, 300))

	// frames 1 and 2 are near duplicates of frame 0; 3 and 4 are distinct
	fakeHashes := map[string]uint64{
		cands[0].FramePath: 0,
		cands[1].FramePath: 0b11111,
		cands[2].FramePath: 0b111,
		cands[3].FramePath: 0xFFFF_FFFF_0000_0000,
		cands[4].FramePath: 0x0000_0000_FFFF_FFFF,
	}
	ocr := &fakeOCR{err: errors.New("engine crashed")}
	desc := &fakeDescriber{}
	p := New(Options{HashThreshold: 8, Workers: 1}, ocr, desc)
	p.hash = hashInOrder(fakeHashes, cands)

	res, err := p.Run(context.Background(), cands, root)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Slides) != 3 {
		t.Fatalf("expected 3 slides, got %d", len(res.Slides))
	}
	wantTS := []float64{0, 30, 40}
	for i, s := range res.Slides {
		if s.Index != i {
			t.Fatalf("slide %d has index %d", i, s.Index)
		}
		if s.Timestamp != wantTS[i] {
			t.Fatalf("slide %d timestamp %.1f, want %.1f", i, s.Timestamp, wantTS[i])
		}
		if s.OCR != nil {
			t.Fatalf("expected OCR to stay nil after failure")
		}
		if s.Description == nil || *s.Description != "slide about " {
			t.Fatalf("expected description to be attached, got %v", s.Description)
		}
		if _, err := os.Stat(filepath.Join(root, s.ImagePath)); err != nil {
			t.Fatalf("slide image missing: %v", err)
		}
	}
	if res.Crop == nil {
		t.Fatalf("expected crop calibration to succeed on identical framed slides")
	}
	if res.Slides[0].CropRect == nil {
		t.Fatalf("expected crop rect on slides")
	}
	out, err := imaging.Open(filepath.Join(root, res.Slides[0].ImagePath))
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds().Dx() != res.Crop.Width || out.Bounds().Dy() != res.Crop.Height {
		t.Fatalf("slide image not cropped: %v vs %+v", out.Bounds(), *res.Crop)
	}
	if ocr.calls != 3 {
		t.Fatalf("expected OCR on each kept slide, got %d calls", ocr.calls)
	}
	ocrDiags := 0
	for _, d := range res.Diagnostics {
		if d.Stage == "ocr" {
			ocrDiags++
		}
	}
	if ocrDiags != 3 {
		t.Fatalf("expected 3 OCR diagnostics, got %+v", res.Diagnostics)
	}
}

func TestPipelineRun_RejectsUnsortedCandidates(t *testing.T) {
	p := New(Options{}, nil, nil)
	_, err := p.Run(context.Background(), []types.SlideCandidate{{Timestamp: 5}, {Timestamp: 1}}, t.TempDir())
	var die *types.DataIntegrityError
	if !errors.As(err, &die) {
		t.Fatalf("expected DataIntegrityError, got %v", err)
	}
}

func TestReprocess_PassesPrompt(t *testing.T) {
	root := t.TempDir()
	cands := writeFrames(t, root, 1, image.Rect(0, 0, 10, 10))
	desc := &fakeDescriber{}
	p := New(Options{}, &fakeOCR{}, desc)
	s := types.Slide{Index: 0, ImagePath: filepath.ToSlash(mustRel(t, root, cands[0].FramePath))}

	got, diags := p.Reprocess(context.Background(), root, s, "focus on the chart")
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics %+v", diags)
	}
	if got.OCR == nil || got.OCR.Text != "Agenda" {
		t.Fatalf("expected OCR result, got %+v", got.OCR)
	}
	if len(desc.prompts) != 1 || desc.prompts[0] != "focus on the chart" {
		t.Fatalf("prompt not forwarded: %v", desc.prompts)
	}
}

func mustRel(t *testing.T, root, p string) string {
	t.Helper()
	rel, err := filepath.Rel(root, p)
	if err != nil {
		t.Fatal(err)
	}
	return rel
}

// hashInOrder maps decoded frames back to their fake hash by decode order.
func hashInOrder(hashes map[string]uint64, cands []types.SlideCandidate) func(image.Image) (uint64, error) {
	i := 0
	return func(image.Image) (uint64, error) {
		h := hashes[cands[i].FramePath]
		i++
		return h, nil
	}
}
