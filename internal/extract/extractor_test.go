package extract

import (
	"errors"
	"io/fs"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/detloader/internal/logging"
	"github.com/vvka-141/detloader/internal/staging"
	"github.com/vvka-141/detloader/internal/state"
	"github.com/vvka-141/detloader/pkg/detloader"
)

const header = "source_file,source_type,frame_number,frame_timestamp,class_name,confidence,bbox_x1,bbox_y1,bbox_x2,bbox_y2,image_width,image_height\n"

func newExtractor(mp *staging.MemoryProvider) *Extractor {
	return New(mp, mp.Root(), logging.NewNullLogger())
}

func names(t *testing.T, e *Extractor, st state.RunState, f Filter) []string {
	t.Helper()
	seq, err := e.Discover(st, f)
	require.NoError(t, err)
	var out []string
	for fd := range seq {
		out = append(out, fd.Name)
	}
	return out
}

func TestDiscover_OrderAndFiltering(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFileWithTime("video_b.csv", header, base.Add(2*time.Minute))
	mp.AddFileWithTime("video_a.csv", header, base.Add(2*time.Minute))
	mp.AddFileWithTime("image_x.csv", header, base)
	mp.AddFileWithTime("mixed.csv", header, base.Add(time.Minute))
	mp.AddFileWithTime("notes.txt", "hello", base)
	mp.AddFileWithTime("sub/video_c.csv", header, base)

	e := newExtractor(mp)

	assert.Equal(t, []string{"image_x.csv", "mixed.csv", "video_a.csv", "video_b.csv"},
		names(t, e, state.Empty(), Filter{}))
	assert.Equal(t, []string{"video_a.csv", "video_b.csv"},
		names(t, e, state.Empty(), Filter{SourceType: detloader.SourceVideo}))
	assert.Equal(t, []string{"image_x.csv"},
		names(t, e, state.Empty(), Filter{SourceType: detloader.SourceImage}))
}

func TestDiscover_SkipsProcessed(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("video_a.csv", header)
	mp.AddFile("video_b.csv", header)

	st := state.Empty()
	st.ProcessedFiles["video_a.csv"] = state.ProcessedFile{}

	assert.Equal(t, []string{"video_b.csv"}, names(t, newExtractor(mp), st, Filter{}))
}

func TestDiscover_Descriptor(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("image_a.csv", header)

	seq, err := newExtractor(mp).Discover(state.Empty(), Filter{})
	require.NoError(t, err)
	fds := slices.Collect(seq)
	require.Len(t, fds, 1)

	assert.Equal(t, "/staging/image_a.csv", fds[0].Path)
	assert.Equal(t, detloader.SourceImage, fds[0].Type)
	assert.Equal(t, int64(len(header)), fds[0].Size)
}

func TestDiscover_MissingDirectory(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	e := New(mp, "/nowhere", logging.NewNullLogger())

	_, err := e.Discover(state.Empty(), Filter{})
	require.Error(t, err)
}

type parsed struct {
	rows []CandidateRow
	errs []error
}

func parseAll(e *Extractor, fd FileDescriptor) parsed {
	var p parsed
	for row, err := range e.Parse(fd) {
		if err != nil {
			p.errs = append(p.errs, err)
			continue
		}
		p.rows = append(p.rows, row)
	}
	return p
}

func descriptor(name string) FileDescriptor {
	return FileDescriptor{Name: name, Path: "/staging/" + name, Type: staging.Classify(name)}
}

func TestParse_Rows(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("video_a.csv", header+
		"vid1.mp4,video,1,0.04,person,0.9,1,2,3,4,640,480\n"+
		"vid1.mp4,video,2,0.08,car,0.8,1,2,3,4,640,480\n")

	p := parseAll(newExtractor(mp), descriptor("video_a.csv"))

	require.Empty(t, p.errs)
	require.Len(t, p.rows, 2)
	assert.Equal(t, 2, p.rows[0].Row.Line)
	assert.Equal(t, 3, p.rows[1].Row.Line)
	assert.Equal(t, "car", p.rows[1].Row.Fields[4])
	assert.Equal(t, "video_a.csv", p.rows[0].Schema.File)
}

func TestParse_MalformedRowContinues(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("video_a.csv", header+
		"vid1.mp4,video,1,0.04,person,0.9,1,2,3,4,640,480\n"+
		"vid1.mp4,video,2,too,few\n"+
		"vid1.mp4,video,3,0.12,dog,0.7,1,2,3,4,640,480\n")

	p := parseAll(newExtractor(mp), descriptor("video_a.csv"))

	require.Len(t, p.rows, 2)
	require.Len(t, p.errs, 1)

	var pe *detloader.ParseError
	require.True(t, errors.As(p.errs[0], &pe))
	assert.Equal(t, 3, pe.Line)
	assert.False(t, detloader.IsFileLevel(p.errs[0]))
	assert.Equal(t, 4, p.rows[1].Row.Line)
}

func TestParse_BadQuoting(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("video_a.csv", header+
		"vid1.mp4,video,1,0.04,per\"son,0.9,1,2,3,4,640,480\n"+
		"vid1.mp4,video,3,0.12,dog,0.7,1,2,3,4,640,480\n")

	p := parseAll(newExtractor(mp), descriptor("video_a.csv"))

	require.Len(t, p.errs, 1)
	var pe *detloader.ParseError
	assert.True(t, errors.As(p.errs[0], &pe))
	require.Len(t, p.rows, 1)
	assert.Equal(t, "dog", p.rows[0].Row.Fields[4])
}

func TestParse_SchemaErrorEndsFile(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("video_bad.csv", "source_file,class_name\nvid1.mp4,person\n")

	p := parseAll(newExtractor(mp), descriptor("video_bad.csv"))

	assert.Empty(t, p.rows)
	require.Len(t, p.errs, 1)
	var se *detloader.SchemaError
	assert.True(t, errors.As(p.errs[0], &se))
	assert.True(t, detloader.IsFileLevel(p.errs[0]))
}

func TestParse_UnreadableFile(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("video_a.csv", header)
	mp.SetUnreadable("video_a.csv", fs.ErrPermission)

	p := parseAll(newExtractor(mp), descriptor("video_a.csv"))

	require.Len(t, p.errs, 1)
	var fe *detloader.FileError
	require.True(t, errors.As(p.errs[0], &fe))
	assert.True(t, errors.Is(p.errs[0], fs.ErrPermission))
}

func TestParse_EmptyFile(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("image_empty.csv", "")

	p := parseAll(newExtractor(mp), descriptor("image_empty.csv"))

	assert.Empty(t, p.rows)
	assert.Empty(t, p.errs)
}

func TestParse_StopEarly(t *testing.T) {
	mp := staging.NewMemoryProvider("/staging")
	mp.AddFile("video_a.csv", header+
		"vid1.mp4,video,1,0.04,person,0.9,1,2,3,4,640,480\n"+
		"vid1.mp4,video,2,0.08,car,0.8,1,2,3,4,640,480\n")

	count := 0
	for range newExtractor(mp).Parse(descriptor("video_a.csv")) {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestFilter_Matches(t *testing.T) {
	assert.True(t, Filter{}.Matches(""))
	assert.True(t, Filter{}.Matches(detloader.SourceVideo))
	assert.False(t, Filter{SourceType: detloader.SourceVideo}.Matches(""))
	assert.False(t, Filter{SourceType: detloader.SourceVideo}.Matches(detloader.SourceImage))
}
