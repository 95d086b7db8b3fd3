package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// fileInfo is one discovered record file, remembered with the size seen at
// discovery time.
type fileInfo struct {
	path string
	size int64
}

// collectFiles walks the data directory for record files pending upload.
// A missing directory is an empty cycle, not an error. Symlinks are
// skipped so the exporter cannot be tricked into shipping files from
// outside the data directory.
func (s *Service) collectFiles() ([]fileInfo, error) {
	if _, err := os.Stat(s.dataDir); errors.Is(err, fs.ErrNotExist) {
		s.log.Warnf("Directory %s does not exist", s.dataDir)
		return nil, nil
	}

	var files []fileInfo
	unknown := 0

	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if matched, _ := filepath.Match(recordPattern, d.Name()); !matched {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			s.log.Warnf("Skipping symlinked file %s", path)
			return nil
		}
		if !s.allowed(path) {
			unknown++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Deleted between the directory read and the stat.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		if info.Size() > s.maxPayloadSize {
			s.log.Warnf("File %s exceeds the maximum payload size (%d > %d bytes)",
				path, info.Size(), s.maxPayloadSize)
			if removeErr := os.Remove(path); removeErr != nil {
				s.log.Errorw("Failed to remove oversized file", "file", path, "error", removeErr)
			} else {
				s.log.Infof("Removed oversized file %s", path)
			}
			return nil
		}

		files = append(files, fileInfo{path: path, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.dataDir, err)
	}

	if unknown > 0 {
		s.log.Infof("Found %d unknown files outside the allowed subdirectories", unknown)
	}
	return files, nil
}

// allowed reports whether the file's first path component below the data
// directory is one of the configured subdirectories. With no filter
// configured, everything is allowed.
func (s *Service) allowed(path string) bool {
	if len(s.allowedSubdirs) == 0 {
		return true
	}
	rel, err := filepath.Rel(s.dataDir, path)
	if err != nil {
		return false
	}
	first, _, _ := strings.Cut(rel, string(filepath.Separator))
	return slices.Contains(s.allowedSubdirs, first)
}

// deleteFiles removes uploaded files from disk. Failures are logged and
// never fail the cycle: a file that stays behind is picked up again next
// cycle, and one already gone needed no work.
func (s *Service) deleteFiles(files []fileInfo) {
	for _, f := range files {
		if err := os.Remove(f.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.log.Debugf("File %s was already deleted", f.path)
				continue
			}
			s.log.Errorw("Failed to remove file", "file", f.path, "error", err)
			continue
		}
		s.log.Debugf("Removed file %s", f.path)
	}
}

// enforceSizeLimit purges collected files, in collection order, until what
// remains of them on disk fits the data directory limit. Sizes are re-read
// so files the cleanup pass already removed no longer count.
func (s *Service) enforceSizeLimit(files []fileInfo) {
	var total int64
	live := make([]fileInfo, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f.path)
		if err != nil {
			continue
		}
		live = append(live, fileInfo{path: f.path, size: info.Size()})
		total += info.Size()
	}

	excess := total - s.maxDataDirSize
	if excess <= 0 {
		return
	}

	s.log.Errorw("Data directory is over the size limit, removing collected files",
		"size", total,
		"limit", s.maxDataDirSize,
	)

	for _, f := range live {
		s.deleteFiles([]fileInfo{f})
		excess -= f.size
		if excess <= 0 {
			return
		}
	}
}
