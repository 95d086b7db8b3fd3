package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/collector/mocks"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/exporter"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	uploader := mocks.NewMockUploader(ctrl)

	tests := []struct {
		name     string
		dataDir  string
		uploader Uploader
		opts     []Option
		wantErr  string
	}{
		{
			name:     "missing data directory",
			uploader: uploader,
			wantErr:  "data directory is required",
		},
		{
			name:    "missing uploader",
			dataDir: t.TempDir(),
			wantErr: "uploader is required",
		},
		{
			name:     "zero payload size",
			dataDir:  t.TempDir(),
			uploader: uploader,
			opts:     []Option{WithMaxPayloadSize(0)},
			wantErr:  "maximum payload size must be positive",
		},
		{
			name:     "negative data directory size",
			dataDir:  t.TempDir(),
			uploader: uploader,
			opts:     []Option{WithMaxDataDirSize(-1)},
			wantErr:  "maximum data directory size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, err := New(tt.dataDir, tt.uploader, tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Nil(t, svc)
		})
	}
}

func TestNew_DataDirectoryLock(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	uploader := mocks.NewMockUploader(ctrl)
	dataDir := t.TempDir()

	first, err := New(dataDir, uploader, WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dataDir, LockFileName))

	_, err = New(dataDir, uploader, WithLogger(zap.NewNop().Sugar()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already locked by another exporter instance")

	// Releasing the lock makes the directory claimable again.
	require.NoError(t, first.Close())

	second, err := New(dataDir, uploader, WithLogger(zap.NewNop().Sugar()))
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNew_MissingDataDirectoryFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	uploader := mocks.NewMockUploader(ctrl)

	_, err := New(filepath.Join(t.TempDir(), "does-not-exist"), uploader,
		WithLogger(zap.NewNop().Sugar()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to lock data directory")
}

func TestCollectOnce_EmptyDirectory(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, t.TempDir())

	require.NoError(t, svc.CollectOnce(context.Background()))
}

func TestCollectOnce_MissingDirectoryIsNotAnError(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	svc, _ := newTestService(t, dataDir)
	require.NoError(t, os.RemoveAll(dataDir))

	require.NoError(t, svc.CollectOnce(context.Background()))
}

func TestCollectOnce_UploadsChunksInOrder(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	writeRecord(t, dataDir, "a.json", 60)
	writeRecord(t, dataDir, "b.json", 60)
	writeRecord(t, dataDir, "c.json", 30)

	svc, uploader := newTestService(t, dataDir, WithMaxPayloadSize(100))

	var uploaded [][]byte
	record := func(_ context.Context, payload []byte) (string, error) {
		uploaded = append(uploaded, payload)
		return "request-id", nil
	}
	gomock.InOrder(
		uploader.EXPECT().UploadTarball(gomock.Any(), gomock.Any()).DoAndReturn(record),
		uploader.EXPECT().UploadTarball(gomock.Any(), gomock.Any()).DoAndReturn(record),
	)

	require.NoError(t, svc.CollectOnce(context.Background()))

	require.Len(t, uploaded, 2)
	assert.Contains(t, readTarball(t, uploaded[0]), "a.json")
	second := readTarball(t, uploaded[1])
	assert.Contains(t, second, "b.json")
	assert.Contains(t, second, "c.json")

	// Cleanup is on by default, so uploaded records are gone.
	assert.NoFileExists(t, filepath.Join(dataDir, "a.json"))
	assert.NoFileExists(t, filepath.Join(dataDir, "b.json"))
	assert.NoFileExists(t, filepath.Join(dataDir, "c.json"))
}

func TestCollectOnce_CleanupDisabledKeepsFiles(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	path := writeRecord(t, dataDir, "a.json", 10)

	svc, uploader := newTestService(t, dataDir, WithCleanup(false))
	uploader.EXPECT().UploadTarball(gomock.Any(), gomock.Any()).Return("request-id", nil)

	require.NoError(t, svc.CollectOnce(context.Background()))
	assert.FileExists(t, path)
}

func TestCollectOnce_UploadFailureIsPropagated(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	path := writeRecord(t, dataDir, "a.json", 10)

	svc, uploader := newTestService(t, dataDir)
	uploader.EXPECT().UploadTarball(gomock.Any(), gomock.Any()).
		Return("", exporter.Transient(errors.New("ingress unavailable")))

	err := svc.CollectOnce(context.Background())
	require.Error(t, err)
	assert.True(t, exporter.IsTransient(err))
	assert.ErrorContains(t, err, "ingress unavailable")

	// Nothing was uploaded, so nothing is cleaned up; the file is retried
	// next cycle.
	assert.FileExists(t, path)
}

func TestCollectOnce_FileRemovedMidCycleFailsRetriable(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	writeRecord(t, dataDir, "a.json", 60)
	b := writeRecord(t, dataDir, "b.json", 60)

	svc, uploader := newTestService(t, dataDir, WithMaxPayloadSize(100))

	// The second chunk's file disappears while the first chunk uploads.
	uploader.EXPECT().UploadTarball(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []byte) (string, error) {
			require.NoError(t, os.Remove(b))
			return "request-id", nil
		})

	err := svc.CollectOnce(context.Background())
	require.Error(t, err)
	assert.True(t, exporter.IsTransient(err))
	assert.ErrorContains(t, err, "failed to package chunk 2/2")
}

func TestCollectOnce_PurgesLeftoversOverTheSizeLimit(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	a := writeRecord(t, dataDir, "a.json", 60)
	b := writeRecord(t, dataDir, "b.json", 60)

	svc, uploader := newTestService(t, dataDir,
		WithCleanup(false),
		WithMaxPayloadSize(200),
		WithMaxDataDirSize(100),
	)
	uploader.EXPECT().UploadTarball(gomock.Any(), gomock.Any()).Return("request-id", nil)

	require.NoError(t, svc.CollectOnce(context.Background()))

	// With cleanup off the 120 bytes stay behind, over the 100 byte
	// limit; the oldest collected file is purged to recover the excess.
	assert.NoFileExists(t, a)
	assert.FileExists(t, b)
}
