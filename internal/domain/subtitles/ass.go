package subtitles

import (
	"fmt"
	"strings"
	"time"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// RenderASS renders the transcript as an ASS script with one karaoke line per
// chunk of a segment. The speaker's display name goes into the Name field.
func RenderASS(segs []types.Segment, speakers []types.SpeakerEntry) string {
	names := speakerNames(speakers)

	var b strings.Builder
	b.WriteString(assHeader())
	b.WriteString("\n[Events]\n")
	b.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, s := range segs {
		name := strings.ReplaceAll(sanitizeASS(nameFor(names, s.SpeakerLabel)), ",", " ")
		words := segmentWords(s)
		if len(words) == 0 {
			text := sanitizeASS(s.Text)
			if text == "" {
				continue
			}
			writeDialogue(&b, dur(s.Start), dur(s.End), name, text)
			continue
		}
		for _, ln := range packWords(words) {
			var t strings.Builder
			for i, w := range ln.Words {
				if i > 0 {
					t.WriteString(" ")
				}
				cs := max(int((w.End-w.Start)/(10*time.Millisecond)), 1)
				fmt.Fprintf(&t, "{\\k%d}%s", cs, w.Text)
			}
			writeDialogue(&b, ln.Start, ln.End, name, t.String())
		}
	}
	return b.String()
}

func writeDialogue(b *strings.Builder, start, end time.Duration, name, text string) {
	fmt.Fprintf(b, "Dialogue: 0,%s,%s,Transcript,%s,0,0,0,,%s\n", assTime(start), assTime(end), name, text)
}

type wword struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

type line struct {
	Start time.Duration
	End   time.Duration
	Words []wword
}

func segmentWords(s types.Segment) []wword {
	var out []wword
	for _, w := range s.Words {
		text := sanitizeASS(w.Text)
		if text == "" {
			continue
		}
		out = append(out, wword{Start: dur(w.Start), End: dur(w.End), Text: text})
	}
	return out
}

// packWords chunks words into lines that fit the subtitle character and word budgets.
func packWords(words []wword) []line {
	const (
		charBudget = 56
		wordBudget = 12
	)
	var out []line
	cur := line{Start: words[0].Start}
	curLen := 0
	for i, w := range words {
		wl := len([]rune(w.Text))
		nextLen := curLen
		if curLen > 0 {
			nextLen++
		}
		nextLen += wl
		if len(cur.Words) > 0 && (len(cur.Words) >= wordBudget || nextLen > charBudget) {
			cur.End = cur.Words[len(cur.Words)-1].End
			out = append(out, cur)
			cur = line{Start: w.Start}
			curLen = 0
		}
		cur.Words = append(cur.Words, w)
		if curLen > 0 {
			curLen++
		}
		curLen += wl
		if i == len(words)-1 {
			cur.End = w.End
			out = append(out, cur)
		}
	}
	return out
}

func assHeader() string {
	return strings.TrimSpace(`
[Script Info]
ScriptType: v4.00+
PlayResX: 1920
PlayResY: 1080
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Transcript, Inter, 54, &H00FFFFFF, &H00FFD200, &H00000000, &H64000000, 0,0,0,0,100,100,0,0,1,3,1,2, 80,80,60,1
`)
}

func assTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	cs := int(d / (10 * time.Millisecond))
	return fmt.Sprintf("%d:%02d:%02d.%02d", hs, ms, s, cs)
}

func sanitizeASS(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "{", "(")
	s = strings.ReplaceAll(s, "}", ")")
	return strings.TrimSpace(s)
}

func speakerNames(speakers []types.SpeakerEntry) map[string]string {
	out := make(map[string]string, len(speakers))
	for _, sp := range speakers {
		if sp.DisplayName != "" {
			out[sp.Label] = sp.DisplayName
		}
	}
	return out
}

func nameFor(names map[string]string, label string) string {
	if n, ok := names[label]; ok {
		return n
	}
	return label
}

func dur(sec float64) time.Duration { return time.Duration(sec * float64(time.Second)) }
