package detloader

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceType identifies the media track a detection came from.
// Image and video detections are batched on independent tracks.
type SourceType string

const (
	SourceImage SourceType = "image"
	SourceVideo SourceType = "video"
)

// SourceTypes lists every track in a stable order (video first, matching run order).
var SourceTypes = []SourceType{SourceVideo, SourceImage}

// ParseSourceType converts user or file input into a SourceType.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "images":
		return SourceImage, nil
	case "video", "videos":
		return SourceVideo, nil
	default:
		return "", fmt.Errorf("unknown source type %q", s)
	}
}

// IsValid reports whether t is one of the known tracks.
func (t SourceType) IsValid() bool {
	return t == SourceImage || t == SourceVideo
}

// TriggerReason records why a batch was flushed.
type TriggerReason string

const (
	TriggerTime   TriggerReason = "time"
	TriggerCount  TriggerReason = "count"
	TriggerManual TriggerReason = "manual"
)

// BoundingBox holds detection box corners in pixel coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

// Area returns Width * Height.
func (b BoundingBox) Area() float64 { return b.Width() * b.Height() }

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (x, y float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// DetectionRecord is one canonical, validated detection.
// Values are constructed by the transformer and never mutated afterwards.
type DetectionRecord struct {
	// StagedFile is the staging CSV the row was read from. It is not part of the
	// record's identity: the same detection may appear in several staged files.
	StagedFile string

	// Line is the 1-based line number of the row within StagedFile.
	Line int

	// SourceFile identifies the analysed media (video path or image name).
	SourceFile string
	SourceType SourceType

	// FrameIndex is the frame number within a video, or -1 when the row carried
	// only a timestamp. Image detections use 0.
	FrameIndex     int64
	FrameTimestamp float64

	ObjectClass string
	Confidence  float64
	BBox        BoundingBox

	// ImageWidth and ImageHeight are 0 when the staged row did not include them.
	ImageWidth  int
	ImageHeight int

	// Fingerprint is a deterministic hash over the identifying fields.
	Fingerprint string
}

// RejectedRow describes a row that did not make it into the warehouse.
type RejectedRow struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	StagedFile  string `json:"staged_file"`
	Line        int    `json:"line,omitempty"`
	Reason      string `json:"reason"`
}

// Batch is a frozen group of records of a single source type flushed together.
type Batch struct {
	ID         uuid.UUID
	SourceType SourceType
	Records    []DetectionRecord
	Trigger    TriggerReason
	OpenedAt   time.Time
	FrozenAt   time.Time
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// LoadResult reports the per-row outcome of loading a batch.
type LoadResult struct {
	BatchID uuid.UUID

	// AcceptedCount includes rows that were already present in the sink
	// (upsert no-ops); AlreadyPresent counts those separately.
	AcceptedCount  int
	AlreadyPresent int
	RejectedRows   []RejectedRow

	// Committed is true only when the sink transaction committed.
	Committed bool

	// Attempts is the number of sink calls made, including the first.
	Attempts int
}

// RowStatus is the sink outcome of an individual row.
type RowStatus int

const (
	RowInserted RowStatus = iota
	RowAlreadyPresent
	RowRejected
)

// String returns a human-readable representation of the RowStatus.
func (s RowStatus) String() string {
	switch s {
	case RowInserted:
		return "inserted"
	case RowAlreadyPresent:
		return "already-present"
	case RowRejected:
		return "rejected"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// RowOutcome is returned by a Sink for each row of an upserted batch, in input order.
type RowOutcome struct {
	Fingerprint string
	Status      RowStatus
	Reason      string
}
