package collector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/exporter"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/otel"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/telemetry"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
)

const (
	// MaxPayloadSize caps a single upload payload and therefore a single
	// record file; Ingress rejects anything larger.
	MaxPayloadSize = 100 * 1024 * 1024

	// MaxDataDirSize is the threshold above which leftover records are
	// purged so the data directory cannot grow without bound.
	MaxDataDirSize = 200 * 1024 * 1024

	// LockFileName is the advisory lock file guarding the data directory
	// against a second exporter instance.
	LockFileName = ".lightspeed-exporter.lock"

	// recordPattern matches the record files the collector picks up.
	recordPattern = "*.json"
)

//go:generate mockgen -destination=mocks/mock_uploader.go -package=mocks -source=collector.go Uploader

// Uploader ships one packaged tarball to the collection endpoint and
// returns the request ID the endpoint assigned to it.
type Uploader interface {
	UploadTarball(ctx context.Context, payload []byte) (string, error)
}

// Service discovers pending record files under the data directory, packs
// them into gzip tarballs, and hands each tarball to the Uploader. One
// CollectOnce call is one full collection cycle.
type Service struct {
	uploader Uploader
	dataDir  string

	cleanup        bool
	allowedSubdirs []string

	maxPayloadSize int64
	maxDataDirSize int64

	lock *flock.Flock

	log     *zap.SugaredLogger
	metrics *telemetry.CollectionMetrics
}

// Option is a function that configures the service.
type Option func(*Service)

// WithCleanup controls whether uploaded files are deleted after a
// successful upload. Enabled by default.
func WithCleanup(enabled bool) Option {
	return func(s *Service) {
		s.cleanup = enabled
	}
}

// WithAllowedSubdirs restricts collection to files whose first path
// component below the data directory is one of the given names. An empty
// list collects everywhere.
func WithAllowedSubdirs(subdirs []string) Option {
	return func(s *Service) {
		s.allowedSubdirs = subdirs
	}
}

// WithMaxPayloadSize overrides the single-payload ceiling.
func WithMaxPayloadSize(size int64) Option {
	return func(s *Service) {
		s.maxPayloadSize = size
	}
}

// WithMaxDataDirSize overrides the purge threshold for leftover records.
func WithMaxDataDirSize(size int64) Option {
	return func(s *Service) {
		s.maxDataDirSize = size
	}
}

// WithLogger sets the service's logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithCollectionMetrics sets the metrics recorded during discovery and
// cleanup.
func WithCollectionMetrics(metrics *telemetry.CollectionMetrics) Option {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// New creates a collection service rooted at dataDir and takes the data
// directory's advisory lock. A second exporter on the same directory would
// double-upload records and race each other's cleanup, so failing to
// acquire the lock is a configuration error. Close releases it.
func New(dataDir string, uploader Uploader, opts ...Option) (*Service, error) {
	if dataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if uploader == nil {
		return nil, errors.New("uploader is required")
	}

	s := &Service{
		uploader:       uploader,
		dataDir:        filepath.Clean(dataDir),
		cleanup:        true,
		maxPayloadSize: MaxPayloadSize,
		maxDataDirSize: MaxDataDirSize,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.maxPayloadSize <= 0 {
		return nil, errors.New("maximum payload size must be positive")
	}
	if s.maxDataDirSize <= 0 {
		return nil, errors.New("maximum data directory size must be positive")
	}
	if s.log == nil {
		s.log = logger.For("collector")
	}

	lock := flock.New(filepath.Join(s.dataDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory %s: %w", s.dataDir, err)
	}
	if !locked {
		return nil, fmt.Errorf("data directory %s is already locked by another exporter instance", s.dataDir)
	}
	s.lock = lock

	return s, nil
}

// Close releases the data directory lock.
func (s *Service) Close() error {
	if s.lock == nil {
		return nil
	}
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release data directory lock: %w", err)
	}
	return nil
}

// CollectOnce performs one collection cycle: discover pending files, pack
// them into chunks, upload each chunk, and clean up. It never retries; a
// failed cycle is reported to the caller, wrapped as transient for
// filesystem and upload failures.
func (s *Service) CollectOnce(ctx context.Context) error {
	files, err := s.collectFiles()
	if err != nil {
		return exporter.Transient(fmt.Errorf("failed to collect files: %w", err))
	}

	s.metrics.RecordPendingFiles(ctx, int64(len(files)))

	if len(files) == 0 {
		s.log.Infof("No data marked for collection in '%s'", s.dataDir)
		return nil
	}

	chunks := chunkFiles(files, s.maxPayloadSize)
	s.log.Debugw("Collected files for upload",
		"files", len(files),
		"chunks", len(chunks),
	)

	trace.SpanFromContext(ctx).SetAttributes(
		otel.AttrFileCount.Int(len(files)),
		otel.AttrChunkCount.Int(len(chunks)),
	)

	for i, chunk := range chunks {
		s.log.Infof("Uploading data chunk %d/%d", i+1, len(chunks))

		payload, err := s.packageTarball(chunk)
		if err != nil {
			return exporter.Transient(fmt.Errorf("failed to package chunk %d/%d: %w", i+1, len(chunks), err))
		}

		requestID, err := s.uploader.UploadTarball(ctx, payload)
		if err != nil {
			return fmt.Errorf("failed to upload chunk %d/%d: %w", i+1, len(chunks), err)
		}

		s.log.Debugw("Uploaded data chunk",
			"chunk", i+1,
			"request_id", requestID,
		)
		s.metrics.RecordCollectedFiles(ctx, int64(len(chunk.files)))

		if s.cleanup {
			s.deleteFiles(chunk.files)
		}
	}

	s.enforceSizeLimit(files)
	return nil
}
