package slides

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/forPelevin/sessionscribe/internal/types"
)

type RectOptions struct {
	AspectRatio     float64
	AspectTolerance float64
	// MinAreaFraction rejects rectangles smaller than this share of the frame.
	MinAreaFraction float64
}

func (o RectOptions) withDefaults() RectOptions {
	if o.AspectRatio <= 0 {
		o.AspectRatio = 16.0 / 9.0
	}
	if o.AspectTolerance <= 0 {
		o.AspectTolerance = 0.15
	}
	if o.MinAreaFraction <= 0 {
		o.MinAreaFraction = 0.1
	}
	return o
}

const (
	analysisWidth  = 640
	edgeThreshold  = 64.0
	minLineFrac    = 0.15
	maxLines       = 16
	minSideDensity = 0.5
	minMeanDensity = 0.7
)

type edgeMap struct {
	w, h  int
	horiz []bool // strong vertical gradient: part of a horizontal line
	vert  []bool // strong horizontal gradient: part of a vertical line
}

// DetectRect finds the largest rectangle in img whose four borders are made of
// strong edges and whose aspect ratio matches opts. Coordinates are in img's pixel space.
func DetectRect(img image.Image, opts RectOptions) (types.Rect, bool) {
	opts = opts.withDefaults()
	b := img.Bounds()
	if b.Dx() < 8 || b.Dy() < 8 {
		return types.Rect{}, false
	}

	work := img
	scale := 1.0
	if b.Dx() > analysisWidth {
		work = imaging.Resize(img, analysisWidth, 0, imaging.Box)
		scale = float64(b.Dx()) / float64(work.Bounds().Dx())
	}

	em := sobel(imaging.Grayscale(work))
	rows := lineCandidates(em.w, em.h, func(i, j int) bool { return em.horiz[i*em.w+j] })
	cols := lineCandidates(em.h, em.w, func(i, j int) bool { return em.vert[j*em.w+i] })

	var (
		best     types.Rect
		bestArea int
	)
	minArea := opts.MinAreaFraction * float64(em.w*em.h)
	for ti, top := range rows {
		for _, bottom := range rows[ti+1:] {
			for li, left := range cols {
				for _, right := range cols[li+1:] {
					rw, rh := right-left, bottom-top
					area := rw * rh
					if float64(area) < minArea || area <= bestArea {
						continue
					}
					aspect := float64(rw) / float64(rh)
					if math.Abs(aspect-opts.AspectRatio)/opts.AspectRatio > opts.AspectTolerance {
						continue
					}
					if left <= 2 && top <= 2 && right >= em.w-3 && bottom >= em.h-3 {
						continue
					}
					if !em.bordered(left, top, right, bottom) {
						continue
					}
					best = types.Rect{X: left, Y: top, Width: rw, Height: rh}
					bestArea = area
				}
			}
		}
	}
	if bestArea == 0 {
		return types.Rect{}, false
	}

	r := types.Rect{
		X:      b.Min.X + int(math.Round(float64(best.X)*scale)),
		Y:      b.Min.Y + int(math.Round(float64(best.Y)*scale)),
		Width:  int(math.Round(float64(best.Width) * scale)),
		Height: int(math.Round(float64(best.Height) * scale)),
	}
	return r, true
}

func sobel(g *image.NRGBA) edgeMap {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	lum := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x*4]) }
	em := edgeMap{w: w, h: h, horiz: make([]bool, w*h), vert: make([]bool, w*h)}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := lum(x+1, y-1) + 2*lum(x+1, y) + lum(x+1, y+1) -
				lum(x-1, y-1) - 2*lum(x-1, y) - lum(x-1, y+1)
			gy := lum(x-1, y+1) + 2*lum(x, y+1) + lum(x+1, y+1) -
				lum(x-1, y-1) - 2*lum(x, y-1) - lum(x+1, y-1)
			em.horiz[y*w+x] = math.Abs(gy) >= edgeThreshold
			em.vert[y*w+x] = math.Abs(gx) >= edgeThreshold
		}
	}
	return em
}

// lineCandidates scores each of n lines of length l by its edge count and keeps
// the strongest local maxima.
func lineCandidates(n, l int, edge func(line, pos int) bool) []int {
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < l; j++ {
			if edge(i, j) {
				counts[i]++
			}
		}
	}
	minCount := int(minLineFrac * float64(l))
	var out []int
	for i, c := range counts {
		if c == 0 || c < minCount {
			continue
		}
		peak := true
		for d := -2; d <= 2 && peak; d++ {
			k := i + d
			if d == 0 || k < 0 || k >= n {
				continue
			}
			// on plateaus the first line wins
			if counts[k] > c || (d < 0 && counts[k] == c) {
				peak = false
			}
		}
		if peak {
			out = append(out, i)
		}
	}
	if len(out) > maxLines {
		sort.SliceStable(out, func(a, b int) bool { return counts[out[a]] > counts[out[b]] })
		out = out[:maxLines]
	}
	sort.Ints(out)
	return out
}

func (em edgeMap) bordered(left, top, right, bottom int) bool {
	d := [4]float64{
		em.density(true, top, left, right),
		em.density(true, bottom, left, right),
		em.density(false, left, top, bottom),
		em.density(false, right, top, bottom),
	}
	sum := 0.0
	for _, v := range d {
		if v < minSideDensity {
			return false
		}
		sum += v
	}
	return sum/4 >= minMeanDensity
}

// density is the share of positions in [from,to] with an edge within one pixel of line.
func (em edgeMap) density(horizontal bool, line, from, to int) float64 {
	if to <= from {
		return 0
	}
	hit := 0
	for p := from; p <= to; p++ {
		for d := -1; d <= 1; d++ {
			k := line + d
			var ok bool
			if horizontal {
				ok = k >= 0 && k < em.h && em.horiz[k*em.w+p]
			} else {
				ok = k >= 0 && k < em.w && em.vert[p*em.w+k]
			}
			if ok {
				hit++
				break
			}
		}
	}
	return float64(hit) / float64(to-from+1)
}

type CalibrationOptions struct {
	Samples   int
	Agreement float64
	// Tolerance is the allowed position/size difference as a share of the frame size.
	Tolerance  float64
	MinSamples int
}

func (o CalibrationOptions) withDefaults() CalibrationOptions {
	if o.Samples <= 0 {
		o.Samples = 5
	}
	if o.Agreement <= 0 {
		o.Agreement = 0.8
	}
	if o.Tolerance <= 0 {
		o.Tolerance = 0.03
	}
	if o.MinSamples <= 0 {
		o.MinSamples = 3
	}
	return o
}

// Calibrate adopts a crop rectangle when enough per-frame detections agree.
// A nil entry is a frame where no rectangle was found; it still counts as a sample.
func Calibrate(rects []*types.Rect, frameW, frameH int, opts CalibrationOptions) (types.Rect, bool) {
	opts = opts.withDefaults()
	if len(rects) < opts.MinSamples || frameW <= 0 || frameH <= 0 {
		return types.Rect{}, false
	}
	tx := opts.Tolerance * float64(frameW)
	ty := opts.Tolerance * float64(frameH)

	bestIdx, bestCount := -1, 0
	for i, r := range rects {
		if r == nil {
			continue
		}
		n := 0
		for _, o := range rects {
			if o != nil && congruent(*r, *o, tx, ty) {
				n++
			}
		}
		if n > bestCount {
			bestIdx, bestCount = i, n
		}
	}
	if bestIdx < 0 || float64(bestCount)/float64(len(rects)) < opts.Agreement {
		return types.Rect{}, false
	}
	return *rects[bestIdx], true
}

func congruent(a, b types.Rect, tx, ty float64) bool {
	return math.Abs(float64(a.X-b.X)) <= tx &&
		math.Abs(float64(a.Width-b.Width)) <= tx &&
		math.Abs(float64(a.Y-b.Y)) <= ty &&
		math.Abs(float64(a.Height-b.Height)) <= ty
}
