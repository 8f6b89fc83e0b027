package staging

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// memoryFileInfo implements fs.FileInfo for in-memory files
type memoryFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (f *memoryFileInfo) Name() string       { return f.name }
func (f *memoryFileInfo) Size() int64        { return f.size }
func (f *memoryFileInfo) Mode() fs.FileMode  { return f.mode }
func (f *memoryFileInfo) ModTime() time.Time { return f.modTime }
func (f *memoryFileInfo) IsDir() bool        { return f.isDir }
func (f *memoryFileInfo) Sys() interface{}   { return nil }

type memoryFile struct {
	content    []byte
	info       *memoryFileInfo
	unreadable error
}

// MemoryProvider implements Provider in memory. It is safe for concurrent use,
// so tests can stage files while a daemon is discovering them.
type MemoryProvider struct {
	mu    sync.RWMutex
	files map[string]*memoryFile // absolute slash path -> file
	root  string
}

// NewMemoryProvider creates an empty in-memory staging area rooted at root.
func NewMemoryProvider(root string) *MemoryProvider {
	root = path.Clean(filepath.ToSlash(root))

	mp := &MemoryProvider{
		files: make(map[string]*memoryFile),
		root:  root,
	}
	mp.files[root] = &memoryFile{
		info: &memoryFileInfo{
			name:    path.Base(root),
			mode:    0755 | fs.ModeDir,
			modTime: time.Now(),
			isDir:   true,
		},
	}
	return mp
}

// Root returns the staging root.
func (mp *MemoryProvider) Root() string { return mp.root }

// AddFile stages a file with the current time as its modification time.
func (mp *MemoryProvider) AddFile(name, content string) {
	mp.AddFileWithTime(name, content, time.Now())
}

// AddFileWithTime stages a file with a specific modification time.
func (mp *MemoryProvider) AddFileWithTime(name, content string, modTime time.Time) {
	absPath := mp.abs(name)

	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.files[absPath] = &memoryFile{
		content: []byte(content),
		info: &memoryFileInfo{
			name:    path.Base(absPath),
			size:    int64(len(content)),
			mode:    0644,
			modTime: modTime,
		},
	}
}

// SetUnreadable makes subsequent Opens of name fail with err.
func (mp *MemoryProvider) SetUnreadable(name string, err error) {
	absPath := mp.abs(name)

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if f, ok := mp.files[absPath]; ok {
		f.unreadable = err
	}
}

// Remove deletes a staged file. Missing files are ignored.
func (mp *MemoryProvider) Remove(name string) {
	absPath := mp.abs(name)

	mp.mu.Lock()
	defer mp.mu.Unlock()
	delete(mp.files, absPath)
}

func (mp *MemoryProvider) abs(p string) string {
	p = filepath.ToSlash(p)
	if p == "" || p == "." {
		return mp.root
	}
	if !path.IsAbs(p) {
		p = path.Join(mp.root, p)
	}
	return path.Clean(p)
}

func (mp *MemoryProvider) ReadDir(dir string) ([]FileInfo, error) {
	absDir := mp.abs(dir)

	mp.mu.RLock()
	defer mp.mu.RUnlock()

	if d, ok := mp.files[absDir]; !ok || !d.info.isDir {
		return nil, fmt.Errorf("failed to read staging directory: %s: %w", dir, fs.ErrNotExist)
	}

	var result []FileInfo
	prefix := absDir + "/"
	for p, f := range mp.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		result = append(result, f.info)
	}
	return result, nil
}

func (mp *MemoryProvider) Open(name string) (io.ReadCloser, error) {
	absPath := mp.abs(name)

	mp.mu.RLock()
	defer mp.mu.RUnlock()

	f, ok := mp.files[absPath]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if f.info.isDir {
		return nil, fmt.Errorf("path is a directory, not a file: %s", name)
	}
	if f.unreadable != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: f.unreadable}
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

func (mp *MemoryProvider) Stat(name string) (FileInfo, error) {
	absPath := mp.abs(name)

	mp.mu.RLock()
	defer mp.mu.RUnlock()

	f, ok := mp.files[absPath]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return f.info, nil
}

func (mp *MemoryProvider) Join(dir, name string) string {
	return path.Join(filepath.ToSlash(dir), name)
}
