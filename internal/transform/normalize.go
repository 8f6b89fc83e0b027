package transform

import (
	"fmt"
	"math"
	"strconv"

	"github.com/vvka-141/detloader/internal/fingerprint"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// Options tune validation.
type Options struct {
	// MinConfidence rejects detections scored below it. Zero disables the filter.
	MinConfidence float64

	// ClampEpsilon is how far outside [0,1] a confidence may stray and still be clamped.
	ClampEpsilon float64
}

// DefaultOptions returns the built-in validation settings.
func DefaultOptions() Options {
	return Options{ClampEpsilon: detloader.DefaultConfidenceClampEpsilon}
}

// Row is one raw CSV record with its position in the staged file.
type Row struct {
	Line   int
	Fields []string
}

// Transformer turns raw rows into canonical detection records.
type Transformer struct {
	opts        Options
	fingerprint fingerprint.Calculator
}

// New creates a Transformer.
func New(opts Options) *Transformer {
	return &Transformer{opts: opts, fingerprint: fingerprint.New()}
}

// Normalize validates row against schema and returns the canonical record.
// Failures are *detloader.ValidationError.
func (t *Transformer) Normalize(schema Schema, row Row) (detloader.DetectionRecord, error) {
	v := validator{schema: schema, row: row}

	rec := detloader.DetectionRecord{
		StagedFile: schema.File,
		Line:       row.Line,
		FrameIndex: -1,
	}

	rec.SourceFile = v.requireString(FieldSourceFile)
	rec.ObjectClass = v.requireString(FieldClass)
	rec.SourceType = v.sourceType()

	rec.Confidence = t.confidence(&v)

	rec.BBox = detloader.BoundingBox{
		X1: v.requireFloat(FieldX1),
		Y1: v.requireFloat(FieldY1),
		X2: v.requireFloat(FieldX2),
		Y2: v.requireFloat(FieldY2),
	}
	rec.ImageWidth = v.optionalDim(FieldImageWidth)
	rec.ImageHeight = v.optionalDim(FieldImageHeight)

	if idx, ok := v.optionalFrameIndex(); ok {
		rec.FrameIndex = idx
	}
	if ts, ok := v.optionalFloat(FieldFrameTimestamp); ok {
		if ts < 0 {
			v.fail(FieldFrameTimestamp, detloader.ReasonOutOfRange, "negative timestamp")
		}
		rec.FrameTimestamp = ts
	}
	if v.err != nil {
		return detloader.DetectionRecord{}, v.err
	}

	switch rec.SourceType {
	case detloader.SourceImage:
		if rec.FrameIndex < 0 {
			rec.FrameIndex = 0
		}
	case detloader.SourceVideo:
		if rec.FrameIndex < 0 && !schema.hasValue(row, FieldFrameTimestamp) {
			field := FieldFrameIndex
			if !schema.Has(FieldFrameIndex) {
				field = FieldFrameTimestamp
			}
			v.fail(field, detloader.ReasonMissingField, "video detections need a frame number or timestamp")
		}
	}

	v.checkBBox(rec)
	if v.err != nil {
		return detloader.DetectionRecord{}, v.err
	}

	if t.opts.MinConfidence > 0 && rec.Confidence < t.opts.MinConfidence {
		return detloader.DetectionRecord{}, v.newError(FieldConfidence, detloader.ReasonBelowMinConfidence,
			strconv.FormatFloat(rec.Confidence, 'g', -1, 64))
	}

	rec.Fingerprint = t.fingerprint.Of(rec)
	return rec, nil
}

func (t *Transformer) confidence(v *validator) float64 {
	c := v.requireFloat(FieldConfidence)
	if v.err != nil {
		return 0
	}
	eps := t.opts.ClampEpsilon
	switch {
	case c >= 0 && c <= 1:
		return c
	case c < 0 && c >= -eps:
		return 0
	case c > 1 && c <= 1+eps:
		return 1
	default:
		v.fail(FieldConfidence, detloader.ReasonOutOfRange, strconv.FormatFloat(c, 'g', -1, 64))
		return 0
	}
}

func (s Schema) hasValue(row Row, f Field) bool {
	_, ok := s.value(row.Fields, f)
	return ok
}

// validator records the first failure and turns later checks into no-ops.
type validator struct {
	schema Schema
	row    Row
	err    *detloader.ValidationError
}

func (v *validator) newError(f Field, reason, detail string) *detloader.ValidationError {
	return &detloader.ValidationError{
		File:   v.schema.File,
		Line:   v.row.Line,
		Field:  v.schema.Name(f),
		Reason: reason,
		Detail: detail,
	}
}

func (v *validator) fail(f Field, reason, detail string) {
	if v.err == nil {
		v.err = v.newError(f, reason, detail)
	}
}

func (v *validator) requireString(f Field) string {
	s, ok := v.schema.value(v.row.Fields, f)
	if !ok {
		v.fail(f, detloader.ReasonMissingField, "")
	}
	return s
}

func (v *validator) requireFloat(f Field) float64 {
	s, ok := v.schema.value(v.row.Fields, f)
	if !ok {
		v.fail(f, detloader.ReasonMissingField, "")
		return 0
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil {
		v.fail(f, detloader.ReasonBadType, s)
		return 0
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		v.fail(f, detloader.ReasonOutOfRange, s)
		return 0
	}
	return x
}

func (v *validator) optionalFloat(f Field) (float64, bool) {
	if _, ok := v.schema.value(v.row.Fields, f); !ok {
		return 0, false
	}
	x := v.requireFloat(f)
	return x, v.err == nil
}

// optionalFrameIndex accepts integral floats ("12.0") the way pandas writes them.
func (v *validator) optionalFrameIndex() (int64, bool) {
	s, ok := v.schema.value(v.row.Fields, FieldFrameIndex)
	if !ok {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			v.fail(FieldFrameIndex, detloader.ReasonOutOfRange, s)
			return 0, false
		}
		return n, true
	}
	x, err := strconv.ParseFloat(s, 64)
	if err != nil || x != math.Trunc(x) || math.IsInf(x, 0) {
		v.fail(FieldFrameIndex, detloader.ReasonBadType, s)
		return 0, false
	}
	if x < 0 || x > math.MaxInt64/2 {
		v.fail(FieldFrameIndex, detloader.ReasonOutOfRange, s)
		return 0, false
	}
	return int64(x), true
}

func (v *validator) optionalDim(f Field) int {
	x, ok := v.optionalFloat(f)
	if !ok {
		return 0
	}
	if x != math.Trunc(x) {
		v.fail(f, detloader.ReasonBadType, strconv.FormatFloat(x, 'g', -1, 64))
		return 0
	}
	if x <= 0 || x > math.MaxInt32 {
		v.fail(f, detloader.ReasonOutOfRange, strconv.FormatFloat(x, 'g', -1, 64))
		return 0
	}
	return int(x)
}

func (v *validator) sourceType() detloader.SourceType {
	s, ok := v.schema.value(v.row.Fields, FieldSourceType)
	if !ok {
		if v.schema.FileType == "" {
			v.fail(FieldSourceType, detloader.ReasonMissingField, "")
		}
		return v.schema.FileType
	}
	t, err := detloader.ParseSourceType(s)
	if err != nil {
		v.fail(FieldSourceType, detloader.ReasonBadType, s)
		return ""
	}
	if v.schema.FileType != "" && t != v.schema.FileType {
		v.fail(FieldSourceType, detloader.ReasonOutOfRange,
			fmt.Sprintf("row says %s but file is %s", t, v.schema.FileType))
		return ""
	}
	return t
}

func (v *validator) checkBBox(rec detloader.DetectionRecord) {
	b := rec.BBox
	switch {
	case b.X1 < 0:
		v.fail(FieldX1, detloader.ReasonOutOfRange, "negative")
	case b.Y1 < 0:
		v.fail(FieldY1, detloader.ReasonOutOfRange, "negative")
	case b.X2 <= b.X1:
		v.fail(FieldX2, detloader.ReasonOutOfRange, "x2 must exceed x1")
	case b.Y2 <= b.Y1:
		v.fail(FieldY2, detloader.ReasonOutOfRange, "y2 must exceed y1")
	case rec.ImageWidth > 0 && b.X2 > float64(rec.ImageWidth):
		v.fail(FieldX2, detloader.ReasonOutOfRange, "outside image width")
	case rec.ImageHeight > 0 && b.Y2 > float64(rec.ImageHeight):
		v.fail(FieldY2, detloader.ReasonOutOfRange, "outside image height")
	}
}
