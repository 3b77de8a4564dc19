package pack

import (
	"fmt"

	"github.com/forPelevin/sessionscribe/internal/types"
)

var knownSchemas = map[string]bool{types.SchemaVersion: true}

func KnownSchema(v string) bool { return knownSchemas[v] }

// Validate checks pkg in a fixed order and reports the first violation as a
// *types.ValidationError. It never modifies pkg.
func Validate(pkg types.Package, root string) error {
	if err := checkSegments(pkg.Transcript.Segments); err != nil {
		return err
	}
	if err := checkSlides(pkg.Slides, pkg.Source.DurationSec); err != nil {
		return err
	}
	if err := checkManifest(pkg, root); err != nil {
		return err
	}
	if !KnownSchema(pkg.SchemaVersion) {
		return &types.ValidationError{Check: "schema", Entity: "schemaVersion", Reason: fmt.Sprintf("unknown version %q", pkg.SchemaVersion)}
	}
	return nil
}

func checkSegments(segs []types.Segment) error {
	ids := make(map[string]bool, len(segs))
	for i, s := range segs {
		fail := func(reason string, args ...any) error {
			return &types.ValidationError{Check: "segments", Entity: s.ID, Reason: fmt.Sprintf(reason, args...)}
		}
		if ids[s.ID] {
			return fail("duplicate id")
		}
		ids[s.ID] = true
		if s.Start < 0 || s.End < s.Start {
			return fail("invalid bounds %.3f-%.3f", s.Start, s.End)
		}
		if i > 0 {
			prev := segs[i-1]
			if s.Start < prev.Start {
				return fail("not sorted: starts before %s", prev.ID)
			}
			if s.Start < prev.End {
				return fail("overlaps %s ending at %.3f", prev.ID, prev.End)
			}
		}
		if len(s.Words) == 0 {
			continue
		}
		if s.Words[0].Start != s.Start || s.Words[len(s.Words)-1].End != s.End {
			return fail("bounds %.3f-%.3f do not match words %.3f-%.3f",
				s.Start, s.End, s.Words[0].Start, s.Words[len(s.Words)-1].End)
		}
		for j, w := range s.Words {
			if w.End <= w.Start {
				return fail("word %d has non-positive duration", j)
			}
			if j > 0 && w.Start < s.Words[j-1].End {
				return fail("word %d overlaps the previous word", j)
			}
		}
	}
	return nil
}

func checkSlides(slides []types.Slide, duration float64) error {
	for i, s := range slides {
		entity := fmt.Sprintf("slide %d", s.Index)
		if s.Timestamp < 0 || (duration > 0 && s.Timestamp > duration) {
			return &types.ValidationError{Check: "slides", Entity: entity, Reason: fmt.Sprintf("timestamp %.3f outside [0, %.3f]", s.Timestamp, duration)}
		}
		if i > 0 && s.Index <= slides[i-1].Index {
			return &types.ValidationError{Check: "slides", Entity: entity, Reason: "index not strictly increasing"}
		}
	}
	return nil
}

func checkManifest(pkg types.Package, root string) error {
	listed := make(map[string]bool, len(pkg.Manifest.Hashes))
	for _, e := range pkg.Manifest.Hashes {
		if err := checkRel(e.Path); err != nil {
			return &types.ValidationError{Check: "manifest", Entity: e.Path, Reason: err.Error()}
		}
		listed[e.Path] = true
	}
	for _, st := range Verify(pkg, root) {
		reason := "hash does not match the live file"
		if st.Missing {
			reason = "file is missing"
		}
		return &types.ValidationError{Check: "manifest", Entity: st.Path, Reason: reason}
	}
	for _, s := range pkg.Slides {
		if s.ImagePath != "" && !listed[s.ImagePath] {
			return &types.ValidationError{Check: "manifest", Entity: s.ImagePath, Reason: "slide image not in manifest"}
		}
	}
	return nil
}
