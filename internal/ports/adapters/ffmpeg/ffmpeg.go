package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

// ExtractAudio writes a 16 kHz mono WAV, the format every ASR backend accepts.
func (a *Adapter) ExtractAudio(ctx context.Context, in, outWav string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outWav,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w\n%s", err, string(b))
	}
	return nil
}

func (a *Adapter) ExtractFrame(ctx context.Context, in string, at float64, outImage string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-y",
		"-ss", fmtSeconds(at),
		"-i", in,
		"-frames:v", "1",
		"-q:v", "2",
		outImage,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg extract frame at %s: %w\n%s", fmtSeconds(at), err, string(b))
	}
	return nil
}

// DetectSceneChanges returns the timestamps where the scene score exceeds threshold.
func (a *Adapter) DetectSceneChanges(ctx context.Context, in string, threshold float64) ([]float64, error) {
	cmd := exec.CommandContext(ctx, a.ffmpeg,
		"-hide_banner",
		"-i", in,
		"-an",
		"-vf", fmt.Sprintf("select='gt(scene,%s)',showinfo", strconv.FormatFloat(threshold, 'f', -1, 64)),
		"-f", "null",
		"-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection: %w\n%s", err, tail(stderr.String(), 2048))
	}
	return parseShowinfo(stderr.String()), nil
}

func (a *Adapter) ProbeDuration(ctx context.Context, in string) (float64, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		in,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration: %w\n%s", err, string(b))
	}
	s := strings.TrimSpace(string(b))
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return sec, nil
}

func (a *Adapter) HasVideo(ctx context.Context, in string) (bool, error) {
	cmd := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream=codec_type,disposition=attached_pic",
		"-of", "csv=p=0",
		in,
	)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("ffprobe streams: %w\n%s", err, string(b))
	}
	return parseStreams(string(b)), nil
}

// parseShowinfo extracts pts_time values from showinfo filter log lines.
func parseShowinfo(log string) []float64 {
	var out []float64
	sc := bufio.NewScanner(strings.NewReader(log))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "Parsed_showinfo") {
			continue
		}
		i := strings.Index(line, "pts_time:")
		if i < 0 {
			continue
		}
		f := strings.Fields(line[i+len("pts_time:"):])
		if len(f) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(f[0], 64)
		if err != nil || v < 0 {
			continue
		}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// parseStreams reports whether any video stream is a real picture track, not cover art.
func parseStreams(out string) bool {
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		f := strings.Split(strings.TrimSpace(line), ",")
		if len(f) == 0 || f[0] != "video" {
			continue
		}
		if len(f) > 1 && f[1] == "1" {
			continue
		}
		return true
	}
	return false
}

func fmtSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
