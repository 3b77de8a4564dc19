package transcript

import (
	"fmt"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// CheckWords rejects word streams that are unsorted, overlapping or have
// non-positive durations.
func CheckWords(words []types.Word) error {
	for i, w := range words {
		if w.Start < 0 {
			return &types.DataIntegrityError{Stream: "words", Index: i, Reason: fmt.Sprintf("negative start %.3f", w.Start)}
		}
		if w.End <= w.Start {
			return &types.DataIntegrityError{Stream: "words", Index: i, Reason: fmt.Sprintf("non-positive duration %.3f-%.3f", w.Start, w.End)}
		}
		if i == 0 {
			continue
		}
		prev := words[i-1]
		if w.Start < prev.Start {
			return &types.DataIntegrityError{Stream: "words", Index: i, Reason: "not sorted by start"}
		}
		if w.Start < prev.End {
			return &types.DataIntegrityError{Stream: "words", Index: i, Reason: fmt.Sprintf("overlaps previous word ending at %.3f", prev.End)}
		}
	}
	return nil
}

func CheckTurns(turns []types.Turn) error {
	for i, t := range turns {
		if t.Start < 0 {
			return &types.DataIntegrityError{Stream: "turns", Index: i, Reason: fmt.Sprintf("negative start %.3f", t.Start)}
		}
		if t.End <= t.Start {
			return &types.DataIntegrityError{Stream: "turns", Index: i, Reason: fmt.Sprintf("non-positive duration %.3f-%.3f", t.Start, t.End)}
		}
		if t.SpeakerLabel == "" {
			return &types.DataIntegrityError{Stream: "turns", Index: i, Reason: "empty speaker label"}
		}
		if i == 0 {
			continue
		}
		prev := turns[i-1]
		if t.Start < prev.Start {
			return &types.DataIntegrityError{Stream: "turns", Index: i, Reason: "not sorted by start"}
		}
		if t.Start < prev.End {
			return &types.DataIntegrityError{Stream: "turns", Index: i, Reason: fmt.Sprintf("overlaps previous turn ending at %.3f", prev.End)}
		}
	}
	return nil
}
