package types

import "time"

const SchemaVersion = "0.1"

type Word struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type Turn struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	SpeakerLabel string  `json:"speakerLabel"`
}

type Segment struct {
	ID           string      `json:"id"`
	Start        float64     `json:"start"`
	End          float64     `json:"end"`
	SpeakerLabel string      `json:"speakerLabel"`
	Text         string      `json:"text"`
	Words        []Word      `json:"words"`
	Edited       bool        `json:"edited"`
	Revision     int         `json:"revision"`
	Pending      bool        `json:"pendingRealignment,omitempty"`
	History      []EditEntry `json:"history,omitempty"`
}

// EditEntry keeps the text a segment had before a committed mutation.
type EditEntry struct {
	Revision int       `json:"revision"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

type TimeWindow struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type SlideCandidate struct {
	Timestamp float64
	FramePath string
}

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type OCRBlock struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       Rect    `json:"bbox"`
}

type OCRResult struct {
	Engine     string     `json:"engine"`
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	Blocks     []OCRBlock `json:"blocks,omitempty"`
}

type Description struct {
	Description string   `json:"description"`
	Bullets     []string `json:"bullets"`
}

type Slide struct {
	Index          int        `json:"index"`
	Timestamp      float64    `json:"timestamp"`
	ImagePath      string     `json:"imagePath"`
	PerceptualHash string     `json:"perceptualHash"`
	CropRect       *Rect      `json:"cropRect,omitempty"`
	OCR            *OCRResult `json:"ocr"`
	Description    *string    `json:"description"`
	Bullets        []string   `json:"bullets,omitempty"`
	Revision       int        `json:"revision"`
}

const (
	MethodDiarization = "diarization"
	MethodSynthetic   = "synthetic"
	MethodUnknown     = "unknown"
	MethodManual      = "manual"
)

type SpeakerEntry struct {
	Label       string `json:"label"`
	DisplayName string `json:"displayName,omitempty"`
	Method      string `json:"method"`
}

type Source struct {
	Type         string    `json:"type"`
	URL          string    `json:"url"`
	DownloadedAt time.Time `json:"downloadedAt"`
	MediaFile    string    `json:"mediaFile"`
	DurationSec  float64   `json:"durationSec"`
	HasVideo     bool      `json:"hasVideo"`
	RunID        string    `json:"runId,omitempty"`
}

type Transcript struct {
	Model            string    `json:"model"`
	DiarizationModel string    `json:"diarizationModel"`
	Language         string    `json:"language"`
	Segments         []Segment `json:"segments"`
}

type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

type Manifest struct {
	Hashes []ManifestEntry `json:"hashes"`
}

// Diagnostic records a degraded collaborator call that did not block the run.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

type Package struct {
	SchemaVersion string         `json:"schemaVersion"`
	Source        Source         `json:"source"`
	Transcript    Transcript     `json:"transcript"`
	Slides        []Slide        `json:"slides"`
	Speakers      []SpeakerEntry `json:"speakers"`
	Diagnostics   []Diagnostic   `json:"diagnostics,omitempty"`
	Manifest      Manifest       `json:"manifest"`
}

// ASRResult is the speech-recognition collaborator output.
type ASRResult struct {
	Model    string       `json:"model,omitempty"`
	Language string       `json:"language"`
	Segments []ASRSegment `json:"segments"`
	Words    []Word       `json:"words"`
}

type ASRSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// DiarizationResult is the speaker-diarization collaborator output.
type DiarizationResult struct {
	Model    string   `json:"model,omitempty"`
	Speakers []string `json:"speakers"`
	Turns    []Turn   `json:"turns"`
}
