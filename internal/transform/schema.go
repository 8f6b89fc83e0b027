package transform

import (
	"strings"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// SchemaVersion names a staged CSV layout.
type SchemaVersion string

const (
	// SchemaCurrent is written by the current detector.
	SchemaCurrent SchemaVersion = "current"
	// SchemaLegacy is written by the first detector release.
	SchemaLegacy SchemaVersion = "legacy"
)

// Field is a canonical column, independent of schema version.
type Field int

const (
	FieldSourceFile Field = iota
	FieldSourceType
	FieldFrameIndex
	FieldFrameTimestamp
	FieldClass
	FieldConfidence
	FieldX1
	FieldY1
	FieldX2
	FieldY2
	FieldImageWidth
	FieldImageHeight
	fieldCount
)

type column struct {
	field    Field
	name     string
	required bool
}

var layouts = map[SchemaVersion][]column{
	SchemaCurrent: {
		{FieldSourceFile, "source_file", true},
		{FieldSourceType, "source_type", false},
		{FieldFrameIndex, "frame_number", false},
		{FieldFrameTimestamp, "frame_timestamp", false},
		{FieldClass, "class_name", true},
		{FieldConfidence, "confidence", true},
		{FieldX1, "bbox_x1", true},
		{FieldY1, "bbox_y1", true},
		{FieldX2, "bbox_x2", true},
		{FieldY2, "bbox_y2", true},
		{FieldImageWidth, "image_width", false},
		{FieldImageHeight, "image_height", false},
	},
	SchemaLegacy: {
		{FieldSourceFile, "source", true},
		{FieldFrameIndex, "frame", false},
		{FieldClass, "label", true},
		{FieldConfidence, "score", true},
		{FieldX1, "x_min", true},
		{FieldY1, "y_min", true},
		{FieldX2, "x_max", true},
		{FieldY2, "y_max", true},
		{FieldImageWidth, "width", false},
		{FieldImageHeight, "height", false},
	},
}

// markers identify a layout by a column only it carries.
var markers = []struct {
	version SchemaVersion
	column  string
}{
	{SchemaCurrent, "class_name"},
	{SchemaLegacy, "label"},
}

// Schema maps canonical fields to column positions of one staged file.
type Schema struct {
	File     string
	Version  SchemaVersion
	FileType detloader.SourceType
	Columns  int
	index    [fieldCount]int
}

// Has reports whether the file carries f.
func (s Schema) Has(f Field) bool { return s.index[f] >= 0 }

// Name returns the column name f maps to in this schema.
func (s Schema) Name(f Field) string {
	for _, c := range layouts[s.Version] {
		if c.field == f {
			return c.name
		}
	}
	return ""
}

func (s Schema) value(row []string, f Field) (string, bool) {
	i := s.index[f]
	if i < 0 || i >= len(row) {
		return "", false
	}
	v := strings.TrimSpace(row[i])
	return v, v != ""
}

// ResolveHeader picks the schema version a header belongs to and locates its
// columns. Names match case-insensitively after trimming; extra columns are
// ignored. fileType is the type implied by the filename, empty when unknown, in
// which case the rows must carry source_type.
func ResolveHeader(file string, header []string, fileType detloader.SourceType) (Schema, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := positions[name]; !dup {
			positions[name] = i
		}
	}

	version := SchemaCurrent
	for _, m := range markers {
		if _, ok := positions[m.column]; ok {
			version = m.version
			break
		}
	}

	s := Schema{File: file, Version: version, FileType: fileType, Columns: len(header)}
	for i := range s.index {
		s.index[i] = -1
	}

	var missing []string
	for _, c := range layouts[version] {
		pos, ok := positions[c.name]
		if ok {
			s.index[c.field] = pos
			continue
		}
		if c.required {
			missing = append(missing, c.name)
		}
	}
	if fileType == "" && !s.Has(FieldSourceType) {
		if version == SchemaLegacy {
			missing = append(missing, "video_/image_ filename prefix")
		} else {
			missing = append(missing, "source_type")
		}
	}
	if len(missing) > 0 {
		return Schema{}, &detloader.SchemaError{File: file, Missing: missing}
	}
	return s, nil
}
