package models

import "time"

// Confidence is the analyzer's self-reported confidence tier.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Provenance summarizes content-credential signals found in the image.
type Provenance struct {
	C2PAPresent bool     `json:"c2pa_present"`
	C2PAValid   *bool    `json:"c2pa_valid"`
	Notes       []string `json:"notes"`
}

// ImageMetadata carries dimensions, format and camera/software tags.
type ImageMetadata struct {
	HasEXIF         bool    `json:"has_exif"`
	CameraMakeModel *string `json:"camera_make_model"`
	SoftwareTag     *string `json:"software_tag"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	Format          string  `json:"format"`
}

// Report holds the analyzer verdict for a completed job. It exists only for
// jobs in the done state and is immutable once written.
type Report struct {
	JobID        string
	CreatedAt    time.Time
	AILikelihood *float64
	Confidence   *Confidence
	VerdictText  string
	Evidence     []string
	Provenance   Provenance
	Metadata     ImageMetadata
	Limitations  []string
}
