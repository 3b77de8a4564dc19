package wavprobe

import (
	"fmt"
	"os"

	"github.com/youpy/go-wav"
)

// Probe reads the media duration from a PCM WAV header.
type Probe struct{}

func (Probe) Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		return 0, fmt.Errorf("read wav format %s: %w", path, err)
	}
	if format.SampleRate == 0 {
		return 0, fmt.Errorf("wav %s: zero sample rate", path)
	}
	d, err := r.Duration()
	if err != nil {
		return 0, fmt.Errorf("read wav duration %s: %w", path, err)
	}
	return d.Seconds(), nil
}
