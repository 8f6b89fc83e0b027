package staging

import (
	"io"
	"io/fs"
)

// FileInfo is an alias for fs.FileInfo from the standard library.
type FileInfo = fs.FileInfo

// Provider abstracts the staging directory.
type Provider interface {
	// ReadDir returns the entries directly inside dir, in no particular order.
	ReadDir(dir string) ([]FileInfo, error)

	// Open opens a staged file for streaming reads. The caller closes it.
	Open(path string) (io.ReadCloser, error)

	// Stat returns file information for the given path.
	Stat(path string) (FileInfo, error)

	// Join builds a path inside dir using the provider's separator.
	Join(dir, name string) string
}
