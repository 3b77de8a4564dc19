package usecase

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/forPelevin/sessionscribe/internal/domain/reconcile"
	"github.com/forPelevin/sessionscribe/internal/ports/adapters/proportional"
	"github.com/forPelevin/sessionscribe/internal/types"
)

func TestProcess_DiarizationFallbackAndSlides(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	root := filepath.Join(tmp, "pkg")
	video := &fakeVideoTool{hasVideo: true, duration: 10, changes: []float64{4, 4, 12}}
	uc := New(Deps{
		Video:     video,
		ASR:       fakeASR{res: testASR()},
		Diarizer:  fakeDiarizer{err: errors.New("model crashed")},
		Describer: &fakeDescriber{},
	}, Settings{EnableSlides: true})

	pkg, err := uc.Process(context.Background(), ProcessInput{
		Media:   writeMedia(t, tmp),
		OutDir:  root,
		WorkDir: filepath.Join(tmp, "work"),
		Source:  types.Source{Type: "local"},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(pkg.Transcript.Segments) != 1 || pkg.Transcript.Segments[0].Text != "Hi there" {
		t.Fatalf("unexpected segments %+v", pkg.Transcript.Segments)
	}
	if got := pkg.Speakers; len(got) != 1 || got[0].Label != "SPEAKER_00" || got[0].Method != types.MethodSynthetic {
		t.Fatalf("expected synthetic speaker, got %+v", got)
	}
	if !hasDiagnostic(pkg.Diagnostics, "diarization") {
		t.Fatalf("expected diarization diagnostic, got %+v", pkg.Diagnostics)
	}
	if pkg.Source.DurationSec != 10 || !pkg.Source.HasVideo {
		t.Fatalf("unexpected source %+v", pkg.Source)
	}

	if got := video.frameTimes(); len(got) != 2 || got[0] != 0 || got[1] != 4 {
		t.Fatalf("unexpected candidate timestamps %v", got)
	}
	if len(pkg.Slides) == 0 || pkg.Slides[0].Timestamp != 0 || pkg.Slides[0].Description == nil {
		t.Fatalf("unexpected slides %+v", pkg.Slides)
	}

	paths := map[string]bool{}
	for _, h := range pkg.Manifest.Hashes {
		paths[h.Path] = true
	}
	for _, want := range []string{"transcript.ass", "transcript.srt", pkg.Slides[0].ImagePath} {
		if !paths[want] {
			t.Fatalf("manifest misses %s: %+v", want, pkg.Manifest.Hashes)
		}
	}
}

func TestProcess_AudioOnlySkipsSlides(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	video := &fakeVideoTool{duration: 10}
	uc := New(Deps{Video: video, ASR: fakeASR{res: testASR()}, Diarizer: fakeDiarizer{res: testTurns()}}, Settings{EnableSlides: true})

	pkg, err := uc.Process(context.Background(), ProcessInput{
		Media:   writeMedia(t, tmp),
		OutDir:  filepath.Join(tmp, "pkg"),
		WorkDir: filepath.Join(tmp, "work"),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(pkg.Slides) != 0 || len(video.frameTimes()) != 0 {
		t.Fatalf("expected no slides for audio-only media")
	}
	if pkg.Speakers[0].Method != types.MethodDiarization || pkg.Transcript.DiarizationModel != "fake-dia" {
		t.Fatalf("unexpected speakers %+v", pkg.Speakers)
	}
}

func TestProcess_ASRFailureStillExports(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	uc := New(Deps{Video: &fakeVideoTool{duration: 10}, ASR: fakeASR{err: errors.New("no model")}}, Settings{})

	pkg, err := uc.Process(context.Background(), ProcessInput{
		Media:   writeMedia(t, tmp),
		OutDir:  filepath.Join(tmp, "pkg"),
		WorkDir: filepath.Join(tmp, "work"),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(pkg.Transcript.Segments) != 0 || !hasDiagnostic(pkg.Diagnostics, "asr") {
		t.Fatalf("expected empty transcript with asr diagnostic, got %+v", pkg)
	}
}

func TestProcess_MalformedWordsAreFatal(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	bad := testASR()
	bad.Words[1].Start = 0.1
	uc := New(Deps{Video: &fakeVideoTool{duration: 10}, ASR: fakeASR{res: bad}}, Settings{})

	_, err := uc.Process(context.Background(), ProcessInput{
		Media:   writeMedia(t, tmp),
		OutDir:  filepath.Join(tmp, "pkg"),
		WorkDir: filepath.Join(tmp, "work"),
	})
	var die *types.DataIntegrityError
	if !errors.As(err, &die) {
		t.Fatalf("expected DataIntegrityError, got %v", err)
	}
}

func TestEditFlow(t *testing.T) {
	t.Parallel()

	root, uc := processed(t)

	res, err := uc.Edit(context.Background(), root, reconcile.EditRequest{SegmentID: "seg_000001", Revision: 0, Text: "Hi, there"})
	if err != nil {
		t.Fatalf("punctuation edit: %v", err)
	}
	if res.Realigned || res.Segment.Words[0].End != 0.4 || res.Segment.Words[1].Start != 0.4 {
		t.Fatalf("punctuation edit moved timings: %+v", res.Segment.Words)
	}

	if _, err := uc.Edit(context.Background(), root, reconcile.EditRequest{SegmentID: "seg_000001", Revision: 0, Text: "stale"}); !errors.Is(err, types.ErrStaleRevision) {
		t.Fatalf("expected stale revision, got %v", err)
	}

	res, err = uc.Edit(context.Background(), root, reconcile.EditRequest{SegmentID: "seg_000001", Revision: 1, Text: "Greetings everyone today"})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if !res.Realigned || len(res.Segment.Words) != 3 {
		t.Fatalf("expected realigned words, got %+v", res)
	}

	pkg, err := uc.Verify(root)
	if err != nil {
		t.Fatalf("verify after edits: %v", err)
	}
	seg := pkg.Transcript.Segments[0]
	if !seg.Edited || seg.Revision != 2 || len(seg.History) != 2 {
		t.Fatalf("unexpected persisted segment %+v", seg)
	}
	srt, err := os.ReadFile(filepath.Join(root, srtFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(srt), "SPEAKER_00: Greetings everyone today") {
		t.Fatalf("subtitles not re-rendered:\n%s", srt)
	}
}

func TestSpeakerFlow(t *testing.T) {
	t.Parallel()

	root, uc := processed(t)

	if _, err := uc.RenameSpeaker(root, "SPEAKER_00", "Alice"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := uc.RenameSpeaker(root, "SPEAKER_42", "Bob"); !errors.Is(err, types.ErrUnknownSpeaker) {
		t.Fatalf("expected unknown speaker, got %v", err)
	}
	seg, err := uc.SetSpeaker(root, "seg_000001", 0, "SPEAKER_01")
	if err != nil {
		t.Fatalf("set speaker: %v", err)
	}
	if seg.SpeakerLabel != "SPEAKER_01" || seg.Revision != 1 {
		t.Fatalf("unexpected segment %+v", seg)
	}

	pkg, err := uc.Verify(root)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(pkg.Speakers) != 2 || pkg.Speakers[0].DisplayName != "Alice" || pkg.Speakers[1].Method != types.MethodManual {
		t.Fatalf("unexpected speakers %+v", pkg.Speakers)
	}
}

func TestReprocessSlide(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	root := filepath.Join(tmp, "pkg")
	desc := &fakeDescriber{}
	uc := New(Deps{
		Video:     &fakeVideoTool{hasVideo: true, duration: 10},
		ASR:       fakeASR{res: testASR()},
		Describer: desc,
	}, Settings{EnableSlides: true})
	if _, err := uc.Process(context.Background(), ProcessInput{Media: writeMedia(t, tmp), OutDir: root, WorkDir: filepath.Join(tmp, "work")}); err != nil {
		t.Fatalf("process: %v", err)
	}

	s, err := uc.ReprocessSlide(context.Background(), root, 0, 0, "List every number on the slide")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if s.Revision != 1 || s.Description == nil || *s.Description != "described: List every number on the slide" {
		t.Fatalf("unexpected slide %+v", s)
	}
	if _, err := uc.ReprocessSlide(context.Background(), root, 0, 0, ""); !errors.Is(err, types.ErrStaleRevision) {
		t.Fatalf("expected stale revision, got %v", err)
	}
	if _, err := uc.ReprocessSlide(context.Background(), root, 9, 0, ""); !errors.Is(err, types.ErrUnknownSlide) {
		t.Fatalf("expected unknown slide, got %v", err)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	t.Parallel()

	root, uc := processed(t)
	if err := os.WriteFile(filepath.Join(root, srtFile), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	var cm *types.ChecksumMismatch
	if _, err := uc.Verify(root); !errors.As(err, &cm) || cm.Path != srtFile {
		t.Fatalf("expected checksum mismatch on %s, got %v", srtFile, err)
	}
}

func TestCandidateTimes(t *testing.T) {
	tests := []struct {
		name     string
		changes  []float64
		duration float64
		want     []float64
	}{
		{"no changes", nil, 10, []float64{0}},
		{"drops zero and duplicates", []float64{0, 2, 2, 5}, 10, []float64{0, 2, 5}},
		{"drops past the end", []float64{3, 10, 11}, 10, []float64{0, 3}},
		{"drops out of order", []float64{5, 3, 7}, 10, []float64{0, 5, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := candidateTimes(tt.changes, tt.duration)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func processed(t *testing.T) (string, Usecase) {
	t.Helper()
	tmp := t.TempDir()
	root := filepath.Join(tmp, "pkg")
	uc := New(Deps{
		Video:     &fakeVideoTool{duration: 10},
		ASR:       fakeASR{res: testASR()},
		Diarizer:  fakeDiarizer{res: testTurns()},
		Realigner: proportional.Realigner{},
	}, Settings{})
	if _, err := uc.Process(context.Background(), ProcessInput{Media: writeMedia(t, tmp), OutDir: root, WorkDir: filepath.Join(tmp, "work")}); err != nil {
		t.Fatalf("process: %v", err)
	}
	return root, uc
}

func writeMedia(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "talk.mp4")
	if err := os.WriteFile(p, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func hasDiagnostic(ds []types.Diagnostic, stage string) bool {
	for _, d := range ds {
		if d.Stage == stage {
			return true
		}
	}
	return false
}

func testASR() types.ASRResult {
	return types.ASRResult{
		Model:    "fake-asr",
		Language: "en",
		Words: []types.Word{
			{Start: 0, End: 0.4, Text: "Hi"},
			{Start: 0.4, End: 0.9, Text: "there"},
		},
	}
}

func testTurns() types.DiarizationResult {
	return types.DiarizationResult{
		Model:    "fake-dia",
		Speakers: []string{"SPEAKER_00"},
		Turns:    []types.Turn{{Start: 0, End: 5, SpeakerLabel: "SPEAKER_00"}},
	}
}

type fakeVideoTool struct {
	hasVideo bool
	duration float64
	changes  []float64

	mu     sync.Mutex
	frames []float64
}

func (f *fakeVideoTool) ExtractAudio(_ context.Context, _, outWav string) error {
	return os.WriteFile(outWav, []byte("RIFF"), 0o644)
}

func (f *fakeVideoTool) ExtractFrame(_ context.Context, _ string, at float64, outImage string) error {
	f.mu.Lock()
	f.frames = append(f.frames, at)
	f.mu.Unlock()
	c := color.NRGBA{R: uint8(at * 40), G: 80, B: 120, A: 255}
	return imaging.Save(imaging.New(64, 36, c), outImage)
}

func (f *fakeVideoTool) DetectSceneChanges(context.Context, string, float64) ([]float64, error) {
	return f.changes, nil
}

func (f *fakeVideoTool) ProbeDuration(context.Context, string) (float64, error) {
	return f.duration, nil
}

func (f *fakeVideoTool) HasVideo(context.Context, string) (bool, error) {
	return f.hasVideo, nil
}

func (f *fakeVideoTool) frameTimes() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.frames...)
}

type fakeASR struct {
	res types.ASRResult
	err error
}

func (f fakeASR) Transcribe(context.Context, string) (types.ASRResult, error) {
	return f.res, f.err
}

type fakeDiarizer struct {
	res types.DiarizationResult
	err error
}

func (f fakeDiarizer) Diarize(context.Context, string) (types.DiarizationResult, error) {
	return f.res, f.err
}

type fakeDescriber struct{}

func (*fakeDescriber) Name() string { return "fake" }

func (*fakeDescriber) Describe(_ context.Context, _, _, prompt string) (types.Description, error) {
	if prompt == "" {
		prompt = "default"
	}
	return types.Description{Description: "described: " + prompt, Bullets: []string{"one"}}, nil
}
