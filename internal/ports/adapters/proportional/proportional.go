// Package proportional is a local realigner: it spreads the words of the
// edited text across the segment window in proportion to their length.
package proportional

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/forPelevin/sessionscribe/internal/types"
)

// Realigner leaves Gap seconds of silence between consecutive words.
type Realigner struct {
	Gap float64
}

func (r Realigner) Realign(ctx context.Context, text string, window types.TimeWindow) ([]types.Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, errors.New("proportional: empty text")
	}
	span := window.End - window.Start
	if span <= 0 {
		return nil, errors.New("proportional: empty window")
	}

	gap := r.Gap
	if gap < 0 || gap*float64(len(tokens)-1) >= span/2 {
		gap = 0
	}
	speech := span - gap*float64(len(tokens)-1)

	total := 0
	weights := make([]int, len(tokens))
	for i, tok := range tokens {
		weights[i] = max(utf8.RuneCountInString(tok), 1)
		total += weights[i]
	}

	words := make([]types.Word, len(tokens))
	at := window.Start
	for i, tok := range tokens {
		end := at + speech*float64(weights[i])/float64(total)
		if i == len(tokens)-1 {
			end = window.End
		}
		words[i] = types.Word{Start: at, End: end, Text: tok}
		at = end + gap
	}
	return words, nil
}
