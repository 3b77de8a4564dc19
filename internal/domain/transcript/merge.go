package transcript

import (
	"fmt"
	"strings"

	"github.com/forPelevin/sessionscribe/internal/types"
)

const (
	DefaultMaxSegment   = 20.0
	DefaultUnknownLabel = "UNKNOWN"
	SyntheticLabel      = "SPEAKER_00"
)

type Options struct {
	// MaxSegment caps a segment's duration in seconds. Zero selects DefaultMaxSegment.
	MaxSegment   float64
	UnknownLabel string
}

func (o Options) withDefaults() Options {
	if o.MaxSegment <= 0 {
		o.MaxSegment = DefaultMaxSegment
	}
	if o.UnknownLabel == "" {
		o.UnknownLabel = DefaultUnknownLabel
	}
	return o
}

type Result struct {
	Segments []types.Segment
	Speakers []types.SpeakerEntry
}

// Merge assigns every word to the turn it overlaps most and groups consecutive
// words of one speaker into segments no longer than opts.MaxSegment.
func Merge(words []types.Word, turns []types.Turn, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if err := CheckWords(words); err != nil {
		return Result{}, err
	}
	if err := CheckTurns(turns); err != nil {
		return Result{}, err
	}
	if len(words) == 0 {
		return Result{Segments: []types.Segment{}}, nil
	}

	labels := assign(words, turns, opts.UnknownLabel)

	var segs []types.Segment
	runStart := 0
	for i := 1; i <= len(words); i++ {
		if i < len(words) && labels[i] == labels[runStart] {
			continue
		}
		for _, part := range splitRun(words[runStart:i], opts.MaxSegment) {
			segs = append(segs, newSegment(len(segs)+1, labels[runStart], part))
		}
		runStart = i
	}

	return Result{
		Segments: segs,
		Speakers: registry(segs, opts.UnknownLabel),
	}, nil
}

// SyntheticTurns is the diarization fallback: one speaker spanning the media.
func SyntheticTurns(duration float64) []types.Turn {
	if duration <= 0 {
		return nil
	}
	return []types.Turn{{Start: 0, End: duration, SpeakerLabel: SyntheticLabel}}
}

func SegmentID(n int) string { return fmt.Sprintf("seg_%06d", n) }

func JoinWords(words []types.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func newSegment(n int, label string, words []types.Word) types.Segment {
	ws := make([]types.Word, len(words))
	copy(ws, words)
	return types.Segment{
		ID:           SegmentID(n),
		Start:        ws[0].Start,
		End:          ws[len(ws)-1].End,
		SpeakerLabel: label,
		Text:         JoinWords(ws),
		Words:        ws,
	}
}

// assign is a merge-join over the two sorted streams.
func assign(words []types.Word, turns []types.Turn, unknown string) []string {
	out := make([]string, len(words))
	if len(turns) == 0 {
		for i := range out {
			out[i] = unknown
		}
		return out
	}

	j := 0
	for i, w := range words {
		// turns that end before this word can never overlap a later word either
		for j < len(turns) && turns[j].End <= w.Start {
			j++
		}

		best := -1
		bestOverlap := 0.0
		for k := j; k < len(turns) && turns[k].Start < w.End; k++ {
			ov := overlap(w.Start, w.End, turns[k].Start, turns[k].End)
			// strict comparison keeps the earlier turn on ties
			if ov > bestOverlap {
				best = k
				bestOverlap = ov
			}
		}
		if best < 0 {
			best = nearest(turns, j, w)
		}
		out[i] = turns[best].SpeakerLabel
	}
	return out
}

// nearest picks between the last turn ending before w and the first turn starting after it.
func nearest(turns []types.Turn, next int, w types.Word) int {
	prev := next - 1
	switch {
	case prev < 0:
		return next
	case next >= len(turns):
		return prev
	}
	if w.Start-turns[prev].End <= turns[next].Start-w.End {
		return prev
	}
	return next
}

func overlap(a0, a1, b0, b1 float64) float64 {
	lo := max(a0, b0)
	hi := min(a1, b1)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// splitRun bisects a run at the word boundary closest to its midpoint until
// every part fits maxDur. A single word is never split.
func splitRun(words []types.Word, maxDur float64) [][]types.Word {
	if len(words) < 2 || words[len(words)-1].End-words[0].Start <= maxDur {
		return [][]types.Word{words}
	}
	mid := (words[0].Start + words[len(words)-1].End) / 2
	cut := 1
	bestDist := -1.0
	for i := 1; i < len(words); i++ {
		boundary := (words[i-1].End + words[i].Start) / 2
		d := boundary - mid
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			bestDist = d
			cut = i
		}
	}
	return append(splitRun(words[:cut], maxDur), splitRun(words[cut:], maxDur)...)
}

func registry(segs []types.Segment, unknown string) []types.SpeakerEntry {
	seen := map[string]bool{}
	var out []types.SpeakerEntry
	for _, s := range segs {
		if seen[s.SpeakerLabel] {
			continue
		}
		seen[s.SpeakerLabel] = true
		method := types.MethodDiarization
		if s.SpeakerLabel == unknown {
			method = types.MethodUnknown
		}
		out = append(out, types.SpeakerEntry{Label: s.SpeakerLabel, Method: method})
	}
	return out
}
