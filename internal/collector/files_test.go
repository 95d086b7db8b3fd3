package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/collector/mocks"
)

// newTestService builds a service over dataDir with a mock uploader that
// expects no calls unless the test programs some.
func newTestService(t *testing.T, dataDir string, opts ...Option) (*Service, *mocks.MockUploader) {
	t.Helper()

	ctrl := gomock.NewController(t)
	uploader := mocks.NewMockUploader(ctrl)

	opts = append(opts, WithLogger(zap.NewNop().Sugar()))
	svc, err := New(dataDir, uploader, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, svc.Close())
	})
	return svc, uploader
}

// writeRecord creates a file of the given size under dir, creating parent
// directories as needed.
func writeRecord(t *testing.T, dir, name string, size int) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	return path
}

func paths(files []fileInfo) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.path)
	}
	return out
}

func TestCollectFiles_FindsNestedRecords(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	a := writeRecord(t, dataDir, "feedback/a.json", 10)
	b := writeRecord(t, dataDir, "feedback/b.json", 20)
	c := writeRecord(t, dataDir, "transcripts/deep/c.json", 30)
	d := writeRecord(t, dataDir, "top.json", 5)

	svc, _ := newTestService(t, dataDir)

	files, err := svc.collectFiles()
	require.NoError(t, err)

	assert.Equal(t, []string{a, b, d, c}, paths(files))
	assert.Equal(t, int64(20), files[1].size)
}

func TestCollectFiles_MissingDirectoryIsEmpty(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)
	require.NoError(t, os.RemoveAll(dataDir))

	files, err := svc.collectFiles()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestCollectFiles_SkipsNonRecordFiles(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	want := writeRecord(t, dataDir, "a.json", 10)
	writeRecord(t, dataDir, "notes.txt", 10)
	writeRecord(t, dataDir, "partial.json.tmp", 10)

	svc, _ := newTestService(t, dataDir)

	files, err := svc.collectFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{want}, paths(files))
}

func TestCollectFiles_SkipsSymlinks(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	outside := writeRecord(t, t.TempDir(), "secret.json", 10)
	require.NoError(t, os.Symlink(outside, filepath.Join(dataDir, "link.json")))
	want := writeRecord(t, dataDir, "real.json", 10)

	svc, _ := newTestService(t, dataDir)

	files, err := svc.collectFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{want}, paths(files))
}

func TestCollectFiles_AllowedSubdirsFilter(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	want := writeRecord(t, dataDir, "feedback/keep.json", 10)
	writeRecord(t, dataDir, "other/drop.json", 10)
	writeRecord(t, dataDir, "toplevel.json", 10)

	svc, _ := newTestService(t, dataDir, WithAllowedSubdirs([]string{"feedback"}))

	files, err := svc.collectFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{want}, paths(files))
}

func TestCollectFiles_RemovesOversizedFiles(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	big := writeRecord(t, dataDir, "big.json", 64)
	small := writeRecord(t, dataDir, "small.json", 8)

	svc, _ := newTestService(t, dataDir, WithMaxPayloadSize(32))

	files, err := svc.collectFiles()
	require.NoError(t, err)

	assert.Equal(t, []string{small}, paths(files))
	assert.NoFileExists(t, big)
}

func TestAllowed(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()

	tests := []struct {
		name    string
		subdirs []string
		path    string
		want    bool
	}{
		{
			name: "no filter allows everything",
			path: filepath.Join(dataDir, "anything", "file.json"),
			want: true,
		},
		{
			name:    "file under allowed subdirectory",
			subdirs: []string{"feedback", "transcripts"},
			path:    filepath.Join(dataDir, "feedback", "file.json"),
			want:    true,
		},
		{
			name:    "nested file under allowed subdirectory",
			subdirs: []string{"transcripts"},
			path:    filepath.Join(dataDir, "transcripts", "2026", "file.json"),
			want:    true,
		},
		{
			name:    "file under unknown subdirectory",
			subdirs: []string{"feedback"},
			path:    filepath.Join(dataDir, "other", "file.json"),
			want:    false,
		},
		{
			name:    "top level file is outside every subdirectory",
			subdirs: []string{"feedback"},
			path:    filepath.Join(dataDir, "file.json"),
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _ := newTestService(t, dataDir, WithAllowedSubdirs(tt.subdirs))
			assert.Equal(t, tt.want, svc.allowed(tt.path))
		})
	}
}

func TestDeleteFiles(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	existing := writeRecord(t, dataDir, "a.json", 10)
	gone := filepath.Join(dataDir, "never-existed.json")

	svc, _ := newTestService(t, dataDir)

	svc.deleteFiles([]fileInfo{
		{path: existing, size: 10},
		{path: gone, size: 10},
	})

	assert.NoFileExists(t, existing)
}

func TestEnforceSizeLimit_UnderLimitKeepsFiles(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	a := writeRecord(t, dataDir, "a.json", 40)
	b := writeRecord(t, dataDir, "b.json", 40)

	svc, _ := newTestService(t, dataDir, WithMaxDataDirSize(100))

	svc.enforceSizeLimit([]fileInfo{
		{path: a, size: 40},
		{path: b, size: 40},
	})

	assert.FileExists(t, a)
	assert.FileExists(t, b)
}

func TestEnforceSizeLimit_PurgesInCollectionOrder(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	a := writeRecord(t, dataDir, "a.json", 40)
	b := writeRecord(t, dataDir, "b.json", 40)
	c := writeRecord(t, dataDir, "c.json", 40)

	svc, _ := newTestService(t, dataDir, WithMaxDataDirSize(100))

	svc.enforceSizeLimit([]fileInfo{
		{path: a, size: 40},
		{path: b, size: 40},
		{path: c, size: 40},
	})

	// 120 bytes against a 100 byte limit: removing the oldest collected
	// file clears the 20 byte excess.
	assert.NoFileExists(t, a)
	assert.FileExists(t, b)
	assert.FileExists(t, c)
}

func TestEnforceSizeLimit_IgnoresAlreadyDeletedFiles(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	a := writeRecord(t, dataDir, "a.json", 80)
	b := writeRecord(t, dataDir, "b.json", 40)
	require.NoError(t, os.Remove(a))

	svc, _ := newTestService(t, dataDir, WithMaxDataDirSize(100))

	// The deleted file no longer counts, so the remaining 40 bytes fit.
	svc.enforceSizeLimit([]fileInfo{
		{path: a, size: 80},
		{path: b, size: 40},
	})

	assert.FileExists(t, b)
}
