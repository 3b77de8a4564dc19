package transcript

import (
	"errors"
	"reflect"
	"testing"

	"github.com/forPelevin/sessionscribe/internal/types"
)

func TestMerge_SingleTurnScenario(t *testing.T) {
	words := []types.Word{
		{Start: 0.0, End: 0.4, Text: "Hi"},
		{Start: 0.4, End: 0.9, Text: "there"},
	}
	turns := []types.Turn{{Start: 0.0, End: 5.0, SpeakerLabel: "SPEAKER_00"}}

	res, err := Merge(words, turns, Options{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(res.Segments))
	}
	s := res.Segments[0]
	if s.ID != "seg_000001" || s.SpeakerLabel != "SPEAKER_00" || s.Text != "Hi there" {
		t.Fatalf("unexpected segment: %+v", s)
	}
	if s.Start != 0.0 || s.End != 0.9 {
		t.Fatalf("unexpected bounds %.2f-%.2f", s.Start, s.End)
	}
	if len(res.Speakers) != 1 || res.Speakers[0].Method != types.MethodDiarization {
		t.Fatalf("unexpected speakers: %+v", res.Speakers)
	}
}

func TestMerge_EmptyWords(t *testing.T) {
	res, err := Merge(nil, []types.Turn{{Start: 0, End: 1, SpeakerLabel: "A"}}, Options{})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Segments == nil || len(res.Segments) != 0 {
		t.Fatalf("expected empty non-nil segment list, got %#v", res.Segments)
	}
}

func TestMerge_Assignment(t *testing.T) {
	tests := []struct {
		name  string
		word  types.Word
		turns []types.Turn
		want  string
	}{
		{
			name: "max overlap wins",
			word: types.Word{Start: 1.0, End: 2.0, Text: "w"},
			turns: []types.Turn{
				{Start: 0.0, End: 1.3, SpeakerLabel: "A"},
				{Start: 1.3, End: 3.0, SpeakerLabel: "B"},
			},
			want: "B",
		},
		{
			name: "tie goes to earlier turn",
			word: types.Word{Start: 1.0, End: 2.0, Text: "w"},
			turns: []types.Turn{
				{Start: 0.0, End: 1.5, SpeakerLabel: "A"},
				{Start: 1.5, End: 3.0, SpeakerLabel: "B"},
			},
			want: "A",
		},
		{
			name: "gap uses nearest turn",
			word: types.Word{Start: 5.0, End: 5.5, Text: "w"},
			turns: []types.Turn{
				{Start: 0.0, End: 2.0, SpeakerLabel: "A"},
				{Start: 6.0, End: 8.0, SpeakerLabel: "B"},
			},
			want: "B",
		},
		{
			name: "gap equidistant goes to earlier turn",
			word: types.Word{Start: 3.0, End: 4.0, Text: "w"},
			turns: []types.Turn{
				{Start: 0.0, End: 2.0, SpeakerLabel: "A"},
				{Start: 5.0, End: 8.0, SpeakerLabel: "B"},
			},
			want: "A",
		},
		{
			name: "after last turn",
			word: types.Word{Start: 9.0, End: 9.5, Text: "w"},
			turns: []types.Turn{
				{Start: 0.0, End: 2.0, SpeakerLabel: "A"},
			},
			want: "A",
		},
		{
			name:  "no turns at all",
			word:  types.Word{Start: 0.0, End: 0.5, Text: "w"},
			turns: nil,
			want:  DefaultUnknownLabel,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Merge([]types.Word{tt.word}, tt.turns, Options{})
			if err != nil {
				t.Fatalf("merge: %v", err)
			}
			if got := res.Segments[0].SpeakerLabel; got != tt.want {
				t.Fatalf("got speaker %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMerge_CoverageAndNonOverlap(t *testing.T) {
	var words []types.Word
	for i := 0; i < 40; i++ {
		st := float64(i) * 0.5
		words = append(words, types.Word{Start: st, End: st + 0.4, Text: "w"})
	}
	turns := []types.Turn{
		{Start: 0, End: 4.1, SpeakerLabel: "A"},
		{Start: 4.1, End: 9.0, SpeakerLabel: "B"},
		{Start: 10.0, End: 30.0, SpeakerLabel: "A"},
	}
	res, err := Merge(words, turns, Options{MaxSegment: 3})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	total := 0
	for i, s := range res.Segments {
		total += len(s.Words)
		if s.Start != s.Words[0].Start || s.End != s.Words[len(s.Words)-1].End {
			t.Fatalf("segment %s bounds do not match its words", s.ID)
		}
		if s.End-s.Start > 3 && len(s.Words) > 1 {
			t.Fatalf("segment %s exceeds max duration: %.2f", s.ID, s.End-s.Start)
		}
		if i > 0 && res.Segments[i-1].End > s.Start {
			t.Fatalf("segments %d and %d overlap", i-1, i)
		}
	}
	if total != len(words) {
		t.Fatalf("expected %d words covered, got %d", len(words), total)
	}
}

func TestMerge_SplitsAtMidpointBoundary(t *testing.T) {
	words := []types.Word{
		{Start: 0, End: 1, Text: "a"},
		{Start: 1, End: 2, Text: "b"},
		{Start: 2, End: 3, Text: "c"},
		{Start: 3, End: 4, Text: "d"},
	}
	turns := []types.Turn{{Start: 0, End: 4, SpeakerLabel: "A"}}
	res, err := Merge(words, turns, Options{MaxSegment: 3})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(res.Segments))
	}
	if res.Segments[0].Text != "a b" || res.Segments[1].Text != "c d" {
		t.Fatalf("unexpected split: %q | %q", res.Segments[0].Text, res.Segments[1].Text)
	}
	if res.Segments[1].ID != "seg_000002" {
		t.Fatalf("unexpected id %s", res.Segments[1].ID)
	}
}

func TestMerge_Idempotent(t *testing.T) {
	words := []types.Word{
		{Start: 0, End: 0.5, Text: "one"},
		{Start: 0.6, End: 1.0, Text: "two"},
		{Start: 1.2, End: 1.9, Text: "three"},
	}
	turns := []types.Turn{
		{Start: 0, End: 0.8, SpeakerLabel: "A"},
		{Start: 0.8, End: 2, SpeakerLabel: "B"},
	}
	a, err := Merge(words, turns, Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Merge(words, turns, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("merge is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestMerge_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		words []types.Word
		turns []types.Turn
	}{
		{"negative duration word", []types.Word{{Start: 1, End: 0.5, Text: "x"}}, nil},
		{"unsorted words", []types.Word{{Start: 2, End: 3, Text: "x"}, {Start: 0, End: 1, Text: "y"}}, nil},
		{"overlapping turns", []types.Word{{Start: 0, End: 1, Text: "x"}}, []types.Turn{
			{Start: 0, End: 2, SpeakerLabel: "A"},
			{Start: 1, End: 3, SpeakerLabel: "B"},
		}},
		{"unsorted turns", []types.Word{{Start: 0, End: 1, Text: "x"}}, []types.Turn{
			{Start: 2, End: 3, SpeakerLabel: "A"},
			{Start: 0, End: 1, SpeakerLabel: "B"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(tt.words, tt.turns, Options{})
			var die *types.DataIntegrityError
			if !errors.As(err, &die) {
				t.Fatalf("expected DataIntegrityError, got %v", err)
			}
		})
	}
}

func TestSyntheticTurns(t *testing.T) {
	got := SyntheticTurns(42)
	if len(got) != 1 || got[0].End != 42 || got[0].SpeakerLabel != SyntheticLabel {
		t.Fatalf("unexpected synthetic turns: %+v", got)
	}
	if SyntheticTurns(0) != nil {
		t.Fatalf("expected nil turns for zero duration")
	}
}
