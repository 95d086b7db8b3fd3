package collector

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// chunk is an ordered set of files whose discovery-time sizes sum to at
// most one payload.
type chunk struct {
	files []fileInfo
	size  int64
}

// chunkFiles packs files into chunks greedily, preserving collection
// order: a new chunk starts when adding the next file would overflow
// maxSize. A chunk is never empty, and no single file exceeds maxSize
// because oversized files were already removed at discovery.
func chunkFiles(files []fileInfo, maxSize int64) []chunk {
	var chunks []chunk
	var current chunk

	for _, f := range files {
		if len(current.files) > 0 && current.size+f.size > maxSize {
			chunks = append(chunks, current)
			current = chunk{}
		}
		current.files = append(current.files, f)
		current.size += f.size
	}
	if len(current.files) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// packageTarball packs one chunk into an in-memory gzip tarball. Entry
// names are data-directory-relative so the endpoint sees the same layout
// the records were written in.
func (s *Service) packageTarball(c chunk) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, f := range c.files {
		info, err := os.Lstat(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", f.path, err)
		}
		// Re-checked here: a symlink could have replaced a regular file
		// between discovery and packaging.
		if info.Mode()&fs.ModeSymlink != 0 {
			s.log.Warnf("Skipping symlinked file %s", f.path)
			continue
		}

		rel, err := filepath.Rel(s.dataDir, f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve archive name for %s: %w", f.path, err)
		}

		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return nil, fmt.Errorf("failed to build tar header for %s: %w", f.path, err)
		}
		hdr.Name = filepath.ToSlash(rel)
		// The file may have changed since discovery; the header must
		// describe the bytes actually written.
		hdr.Size = int64(len(data))

		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write tar header for %s: %w", f.path, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("failed to add %s to the tarball: %w", f.path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize tarball: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}
