package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// OSProvider implements Provider for the OS filesystem.
type OSProvider struct{}

// NewOSProvider creates a new OS staging provider.
func NewOSProvider() *OSProvider {
	return &OSProvider{}
}

func (p *OSProvider) ReadDir(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}

	result := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info; the producer is still moving files around.
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to get file info for %s: %w", entry.Name(), err)
		}
		result = append(result, info)
	}

	return result, nil
}

func (p *OSProvider) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (p *OSProvider) Stat(path string) (FileInfo, error) {
	return os.Stat(path)
}

func (p *OSProvider) Join(dir, name string) string {
	return filepath.Join(dir, name)
}
