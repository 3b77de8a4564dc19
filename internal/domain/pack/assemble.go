package pack

import (
	"fmt"

	"github.com/forPelevin/sessionscribe/internal/types"
)

type Input struct {
	// Root is the package directory every artifact path is relative to.
	Root        string
	Source      types.Source
	Transcript  types.Transcript
	Slides      []types.Slide
	Speakers    []types.SpeakerEntry
	Diagnostics []types.Diagnostic
	// Artifacts are extra package files covered by the manifest, such as rendered subtitles.
	Artifacts []string
}

// Assemble composes the package and recomputes its manifest from the files under in.Root.
func Assemble(in Input) (types.Package, error) {
	pkg := types.Package{
		SchemaVersion: types.SchemaVersion,
		Source:        in.Source,
		Transcript:    in.Transcript,
		Slides:        in.Slides,
		Speakers:      in.Speakers,
		Diagnostics:   in.Diagnostics,
	}
	if pkg.Transcript.Segments == nil {
		pkg.Transcript.Segments = []types.Segment{}
	}
	if pkg.Slides == nil {
		pkg.Slides = []types.Slide{}
	}
	if pkg.Speakers == nil {
		pkg.Speakers = []types.SpeakerEntry{}
	}

	var paths []string
	if rel, ok := relInside(in.Root, in.Source.MediaFile); ok {
		pkg.Source.MediaFile = rel
		paths = append(paths, rel)
	}
	for _, s := range pkg.Slides {
		paths = append(paths, s.ImagePath)
	}
	paths = append(paths, in.Artifacts...)

	m, err := BuildManifest(in.Root, paths)
	if err != nil {
		return types.Package{}, fmt.Errorf("assemble: %w", err)
	}
	pkg.Manifest = m
	return pkg, nil
}
