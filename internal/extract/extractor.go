package extract

import (
	"cmp"
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"slices"
	"time"

	"github.com/vvka-141/detloader/internal/staging"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/internal/transform"
	"github.com/vvka-141/detloader/pkg/detloader"
)

// FileDescriptor identifies one staged CSV file.
type FileDescriptor struct {
	Name    string
	Path    string
	Type    detloader.SourceType // empty when the filename carries no prefix
	Size    int64
	ModTime time.Time
}

// CandidateRow is a raw row paired with the schema of the file it came from.
type CandidateRow struct {
	Schema transform.Schema
	Row    transform.Row
}

// Filter restricts which staged files are discovered.
type Filter struct {
	// SourceType limits discovery to one track. Empty means every file,
	// including files without a type prefix.
	SourceType detloader.SourceType
}

// Matches reports whether a file of type t passes the filter.
func (f Filter) Matches(t detloader.SourceType) bool {
	if f.SourceType == "" {
		return true
	}
	// Unprefixed files may mix types, so only an unfiltered run reads them.
	return t == f.SourceType
}

// Extractor reads the staging directory.
type Extractor struct {
	provider staging.Provider
	dir      string
	logger   detloader.Logger
}

// New creates an Extractor over dir.
func New(provider staging.Provider, dir string, logger detloader.Logger) *Extractor {
	return &Extractor{provider: provider, dir: dir, logger: logger}
}

// Dir returns the staging directory.
func (e *Extractor) Dir() string { return e.dir }

// Discover lists unprocessed staged files that pass filter, oldest
// modification time first, ties broken by name.
func (e *Extractor) Discover(st state.RunState, filter Filter) (iter.Seq[FileDescriptor], error) {
	entries, err := e.provider.ReadDir(e.dir)
	if err != nil {
		return nil, err
	}

	files := make([]FileDescriptor, 0, len(entries))
	for _, info := range entries {
		name := info.Name()
		if info.IsDir() || !staging.IsStagedCSV(name) {
			continue
		}
		if st.IsProcessed(name) {
			continue
		}
		fileType := staging.Classify(name)
		if !filter.Matches(fileType) {
			continue
		}
		files = append(files, FileDescriptor{
			Name:    name,
			Path:    e.provider.Join(e.dir, name),
			Type:    fileType,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	slices.SortFunc(files, func(a, b FileDescriptor) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	e.logger.Verbose("Discovered %d pending staged files in %s", len(files), e.dir)

	return slices.Values(files), nil
}

// Parse streams the rows of fd. The file is opened when iteration starts and
// closed when it ends or the consumer stops early.
func (e *Extractor) Parse(fd FileDescriptor) iter.Seq2[CandidateRow, error] {
	return func(yield func(CandidateRow, error) bool) {
		rc, err := e.provider.Open(fd.Path)
		if err != nil {
			yield(CandidateRow{}, &detloader.FileError{File: fd.Name, Err: err})
			return
		}
		defer rc.Close()

		r := csv.NewReader(rc)
		r.ReuseRecord = false

		header, err := r.Read()
		if errors.Is(err, io.EOF) {
			e.logger.Verbose("%s is empty", fd.Name)
			return
		}
		if err != nil {
			yield(CandidateRow{}, fileLevel(fd.Name, err))
			return
		}

		schema, err := transform.ResolveHeader(fd.Name, header, fd.Type)
		if err != nil {
			yield(CandidateRow{}, err)
			return
		}
		// Rows must match the header width; csv reports mismatches per row.
		r.FieldsPerRecord = len(header)

		for {
			record, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				var pe *csv.ParseError
				if !errors.As(err, &pe) {
					yield(CandidateRow{}, &detloader.FileError{File: fd.Name, Err: err})
					return
				}
				if !yield(CandidateRow{}, &detloader.ParseError{File: fd.Name, Line: pe.StartLine, Err: pe.Err}) {
					return
				}
				continue
			}

			line, _ := r.FieldPos(0)
			if !yield(CandidateRow{Schema: schema, Row: transform.Row{Line: line, Fields: record}}, nil) {
				return
			}
		}
	}
}

// fileLevel turns a failure to read the header into a file-level error.
func fileLevel(name string, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &detloader.SchemaError{File: name, Missing: []string{"readable header (" + pe.Err.Error() + ")"}}
	}
	return &detloader.FileError{File: name, Err: err}
}
