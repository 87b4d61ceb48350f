// Package util provides utility functions for file operations.
package util

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// OpenFile opens a file, automatically decompressing if it's gzip-compressed.
// The caller must close the returned reader.
func OpenFile(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return MaybeGunzip(path, file)
}

// MaybeGunzip wraps rc in a gzip reader when name indicates compression.
// Closing the result closes rc as well.
func MaybeGunzip(name string, rc io.ReadCloser) (io.ReadCloser, error) {
	if !IsGzipFile(name) {
		return rc, nil
	}
	gzReader, err := gzip.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &multiCloser{Reader: gzReader, closers: []io.Closer{gzReader, rc}}, nil
}

// IsGzipFile returns true if the file path indicates gzip compression.
func IsGzipFile(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// StripCompression removes compression extensions (.gz) from a path.
func StripCompression(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") {
		return path[:len(path)-3]
	}
	return path
}

// BaseFormat extracts the format extension after stripping compression.
// e.g., "metrics.jsonl.gz" -> ".jsonl", "chart.svg" -> ".svg"
func BaseFormat(path string) string {
	stripped := StripCompression(path)
	return strings.ToLower(filepath.Ext(stripped))
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
