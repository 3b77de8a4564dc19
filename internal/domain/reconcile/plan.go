package reconcile

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/forPelevin/sessionscribe/internal/types"
)

const (
	DefaultMaxChangedFraction = 0.20
	DefaultMaxShift           = 0.5
	minWordDuration           = 0.02
)

type Options struct {
	// MaxChangedFraction is the largest share of changed tokens a fast remap may absorb.
	MaxChangedFraction float64
	// MaxShift is the largest inferred boundary shift in seconds a fast remap may introduce.
	MaxShift float64
}

func (o Options) withDefaults() Options {
	if o.MaxChangedFraction <= 0 {
		o.MaxChangedFraction = DefaultMaxChangedFraction
	}
	if o.MaxShift <= 0 {
		o.MaxShift = DefaultMaxShift
	}
	return o
}

// Plan is the outcome of comparing a segment with its edited text.
type Plan struct {
	Text            string
	ChangedFraction float64
	// Fast reports that Words holds a local remap; otherwise realignment is needed.
	Fast   bool
	Words  []types.Word
	Reason string
}

// token is one word-bearing unit of text made of the fields folded into it.
// first is the input index of fields[0].
type token struct {
	surface string
	key     string
	fields  []string
	keyAt   int
	first   int
}

// PlanEdit diffs seg's words against text and either remaps timings locally or
// reports why the segment has to be realigned.
func PlanEdit(seg types.Segment, text string, opts Options) (Plan, error) {
	opts = opts.withDefaults()
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Plan{}, types.ErrEmptyEdit
	}
	newToks := tokenize(fields)
	if len(newToks) == 0 {
		return Plan{}, fmt.Errorf("%w: %q", types.ErrNoWords, strings.Join(fields, " "))
	}
	plan := Plan{Text: joinSurface(newToks)}

	if len(seg.Words) == 0 {
		plan.ChangedFraction = 1
		plan.Reason = "segment has no word timings"
		return plan, nil
	}
	surfaces := make([]string, len(seg.Words))
	for i, w := range seg.Words {
		surfaces[i] = w.Text
	}
	oldToks := tokenize(surfaces)
	if len(oldToks) == 0 {
		plan.ChangedFraction = 1
		plan.Reason = "segment has no word tokens"
		return plan, nil
	}

	ops := difflib.NewMatcherWithJunk(keys(oldToks), keys(newToks), false, nil).GetOpCodes()
	changed := 0
	for _, op := range ops {
		switch op.Tag {
		case 'r':
			changed += max(op.I2-op.I1, op.J2-op.J1)
		case 'd':
			changed += op.I2 - op.I1
		case 'i':
			changed += op.J2 - op.J1
		}
	}
	plan.ChangedFraction = float64(changed) / float64(len(oldToks))
	if plan.ChangedFraction > opts.MaxChangedFraction {
		plan.Reason = "too many tokens changed"
		return plan, nil
	}

	words, shift, ok := remap(seg, oldToks, newToks, ops)
	if !ok {
		plan.Reason = "remap produced an empty word interval"
		return plan, nil
	}
	if shift > opts.MaxShift {
		plan.Reason = "inserted words shift a boundary too far"
		return plan, nil
	}
	plan.Fast = true
	plan.Words = words
	return plan, nil
}

// remap carries the timings of seg's words over to the edited tokens. The
// returned shift is the largest time inserted words needed beyond their gap.
func remap(seg types.Segment, oldToks, toks []token, ops []difflib.OpCode) ([]types.Word, float64, bool) {
	old := seg.Words
	rate := (seg.End - seg.Start) / float64(max(totalChars(old), 1))
	firstWord := func(t int) types.Word { return old[oldToks[t].first] }
	lastWord := func(t int) types.Word { return old[oldToks[t].first+len(oldToks[t].fields)-1] }

	var (
		out      []types.Word
		carry    = -1.0 // start override for the next emitted word
		maxShift float64
	)
	emit := func(w types.Word) {
		if carry >= 0 {
			w.Start = carry
			carry = -1
		}
		out = append(out, w)
	}
	// absorb hands a dropped interval to the previous word, or to the next one
	// at the start of the segment.
	absorb := func(start, end float64) {
		if len(out) > 0 {
			out[len(out)-1].End = end
		} else if carry < 0 {
			carry = start
		}
	}

	for _, op := range ops {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.I2-op.I1; k++ {
				ot, nt := oldToks[op.I1+k], toks[op.J1+k]
				// old word n pairs with new field n+offset; both keys line up
				offset := nt.keyAt - ot.keyAt
				head := -1
				for n := range ot.fields {
					w := old[ot.first+n]
					j := n + offset
					if j < 0 || j >= len(nt.fields) {
						absorb(w.Start, w.End)
						continue
					}
					w.Text = nt.fields[j]
					if head < 0 {
						head = len(out)
					}
					emit(w)
				}
				if offset > 0 {
					out[head].Text = strings.Join(nt.fields[:offset], " ") + " " + out[head].Text
				}
				if tail := offset + len(ot.fields); tail < len(nt.fields) {
					out[len(out)-1].Text += " " + strings.Join(nt.fields[tail:], " ")
				}
			}
		case 'r':
			span := distribute(firstWord(op.I1).Start, lastWord(op.I2-1).End, toks[op.J1:op.J2])
			for _, w := range span {
				emit(w)
			}
		case 'd':
			absorb(firstWord(op.I1).Start, lastWord(op.I2-1).End)
		case 'i':
			left := seg.Start
			if len(out) > 0 {
				left = out[len(out)-1].End
			} else if carry >= 0 {
				left = carry
			}
			right := seg.End
			if op.I1 < len(oldToks) {
				right = firstWord(op.I1).Start
			}
			ins := toks[op.J1:op.J2]
			want := rate * float64(tokenChars(ins))
			gap := right - left

			switch {
			case gap >= want:
				mid := (left + right) / 2
				left, right = mid-want/2, mid+want/2
			case len(out) > 0:
				prev := &out[len(out)-1]
				nl := max(prev.Start+minWordDuration, right-want)
				maxShift = max(maxShift, want-gap)
				prev.End = nl
				left = nl
			case op.I1 < len(oldToks):
				next := firstWord(op.I1)
				nr := min(next.End-minWordDuration, left+want)
				maxShift = max(maxShift, want-gap)
				out = append(out, distribute(left, nr, ins)...)
				carry = nr
				continue
			}
			for _, w := range distribute(left, right, ins) {
				emit(w)
			}
		}
	}

	for i, w := range out {
		if w.End <= w.Start {
			return nil, 0, false
		}
		if i > 0 && w.Start < out[i-1].End {
			return nil, 0, false
		}
	}
	return out, maxShift, true
}

// distribute splits [start,end] across toks proportionally to their length.
func distribute(start, end float64, toks []token) []types.Word {
	total := tokenChars(toks)
	out := make([]types.Word, 0, len(toks))
	cur := start
	acc := 0
	for i, t := range toks {
		acc += max(utf8.RuneCountInString(t.key), 1)
		next := start + (end-start)*float64(acc)/float64(total)
		if i == len(toks)-1 {
			next = end
		}
		out = append(out, types.Word{Start: cur, End: next, Text: t.surface})
		cur = next
	}
	return out
}

// tokenize pairs every surface token with its comparison key. Fields with no
// letters or digits are folded into a neighbour so punctuation never counts as a word.
func tokenize(fields []string) []token {
	var (
		out    []token
		prefix []string
	)
	for i, f := range fields {
		k := normalize(f)
		if k == "" {
			if len(out) > 0 {
				t := &out[len(out)-1]
				t.surface += " " + f
				t.fields = append(t.fields, f)
			} else {
				prefix = append(prefix, f)
			}
			continue
		}
		fs := append(prefix, f)
		out = append(out, token{
			surface: strings.Join(fs, " "),
			key:     k,
			fields:  fs,
			keyAt:   len(prefix),
			first:   i - len(prefix),
		})
		prefix = nil
	}
	return out
}

func normalize(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
	return strings.ToLower(s)
}

func keys(toks []token) []string {
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.key
	}
	return out
}

func joinSurface(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.surface
	}
	return strings.Join(parts, " ")
}

func tokenChars(toks []token) int {
	n := 0
	for _, t := range toks {
		n += max(utf8.RuneCountInString(t.key), 1)
	}
	return n
}

func totalChars(words []types.Word) int {
	n := 0
	for _, w := range words {
		n += max(utf8.RuneCountInString(normalize(w.Text)), 1)
	}
	return n
}
