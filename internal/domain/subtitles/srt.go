package subtitles

import (
	"fmt"
	"strings"
	"time"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// RenderSRT renders one cue per segment, prefixed with the speaker name.
func RenderSRT(segs []types.Segment, speakers []types.SpeakerEntry) string {
	names := speakerNames(speakers)
	var b strings.Builder
	n := 0
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		n++
		if n > 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s: %s\n", n, srtTime(dur(s.Start)), srtTime(dur(s.End)), nameFor(names, s.SpeakerLabel), text)
	}
	return b.String()
}

func srtTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hs := int(d / time.Hour)
	d -= time.Duration(hs) * time.Hour
	ms := int(d / time.Minute)
	d -= time.Duration(ms) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hs, ms, s, int(d/time.Millisecond))
}
