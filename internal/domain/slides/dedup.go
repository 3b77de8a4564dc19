package slides

import (
	"fmt"
	"image"
	"math/bits"
	"strconv"

	"github.com/corona10/goimagehash"
)

const DefaultHashThreshold = 8

// Dedup returns the indices of hashes to keep. Each hash is compared with the
// last kept one only, so the first frame of a run of near-duplicates survives.
func Dedup(hashes []uint64, threshold int) []int {
	var keep []int
	for i, h := range hashes {
		if len(keep) > 0 && Distance(hashes[keep[len(keep)-1]], h) <= threshold {
			continue
		}
		keep = append(keep, i)
	}
	return keep
}

func Distance(a, b uint64) int { return bits.OnesCount64(a ^ b) }

// PerceptualHash is the 64-bit DCT hash of img.
func PerceptualHash(img image.Image) (uint64, error) {
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("phash: %w", err)
	}
	return h.GetHash(), nil
}

func FormatHash(h uint64) string { return fmt.Sprintf("%016x", h) }

func ParseHash(s string) (uint64, error) { return strconv.ParseUint(s, 16, 64) }
