package staging

import (
	"strings"

	"github.com/vvka-141/detloader/pkg/detloader"
)

// Filename prefixes the analysis stage uses when it writes staged files.
const (
	VideoPrefix = "video_"
	ImagePrefix = "image_"
	Extension   = ".csv"
)

// IsStagedCSV reports whether name looks like a staged detection file.
func IsStagedCSV(name string) bool {
	return strings.EqualFold(extOf(name), Extension) && !strings.HasPrefix(name, ".")
}

func extOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return name[i:]
}

// Classify maps a staged filename to its source type by prefix. An empty result
// means the file may mix types and each row must carry a source_type column.
func Classify(name string) detloader.SourceType {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, VideoPrefix):
		return detloader.SourceVideo
	case strings.HasPrefix(lower, ImagePrefix):
		return detloader.SourceImage
	default:
		return ""
	}
}

// TypeSummary counts staged files of one kind.
type TypeSummary struct {
	Files int
	Bytes int64
}

// Summary describes what is currently sitting in the staging directory.
type Summary struct {
	Dir     string
	Video   TypeSummary
	Image   TypeSummary
	Unknown TypeSummary
}

// TotalFiles returns the number of staged CSV files.
func (s Summary) TotalFiles() int {
	return s.Video.Files + s.Image.Files + s.Unknown.Files
}

// TotalBytes returns the combined size of staged CSV files.
func (s Summary) TotalBytes() int64 {
	return s.Video.Bytes + s.Image.Bytes + s.Unknown.Bytes
}

// Summarize counts staged CSV files by type. Processed files are included;
// the staging directory is never cleaned by the loader.
func Summarize(p Provider, dir string) (Summary, error) {
	entries, err := p.ReadDir(dir)
	if err != nil {
		return Summary{Dir: dir}, err
	}

	s := Summary{Dir: dir}
	for _, info := range entries {
		if info.IsDir() || !IsStagedCSV(info.Name()) {
			continue
		}
		var bucket *TypeSummary
		switch Classify(info.Name()) {
		case detloader.SourceVideo:
			bucket = &s.Video
		case detloader.SourceImage:
			bucket = &s.Image
		default:
			bucket = &s.Unknown
		}
		bucket.Files++
		bucket.Bytes += info.Size()
	}
	return s, nil
}
