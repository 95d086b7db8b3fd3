// Package ingress uploads packaged record tarballs to the Red Hat console
// Ingress service.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/exporter"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/otel"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/telemetry"
	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
)

const (
	// DefaultTimeout is the default timeout for upload requests.
	DefaultTimeout = 30 * time.Second

	// TarballFilename is the filename reported for the uploaded part. The
	// endpoint keys on the part content type, not the name.
	TarballFilename = "lightspeed-assistant.tgz"

	// maxResponseSize is the maximum allowed Ingress response size. The
	// expected response is a one-line JSON document.
	maxResponseSize = 1 * 1024 * 1024

	// contentTypeFormat is the part content type announcing the service
	// the payload belongs to.
	contentTypeFormat = "application/vnd.redhat.%s.periodic+tar"

	// userAgentFormat carries the identity ID through uhc-auth-proxy,
	// which parses the cluster suffix out of the user agent.
	userAgentFormat = "openshift-lightspeed-operator/user-data-collection cluster/%s"
)

// Client is an interface for Ingress upload operations.
type Client interface {
	// UploadTarball posts one gzip tarball and returns the request ID the
	// service assigned to it.
	UploadTarball(ctx context.Context, payload []byte) (string, error)
}

// Config carries the connection settings for the Ingress service.
type Config struct {
	// ServerURL is the full upload endpoint URL.
	ServerURL string
	// AuthToken is sent as the bearer token on every upload.
	AuthToken string
	// ServiceID selects the payload content type.
	ServiceID string
	// IdentityID identifies the uploading cluster in the user agent.
	IdentityID string
	// Timeout bounds one whole upload request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultClient is the default Ingress client implementation.
type DefaultClient struct {
	client *http.Client

	serverURL  string
	authToken  string
	serviceID  string
	identityID string

	log     *zap.SugaredLogger
	metrics *telemetry.IngressMetrics
}

// Option is a function that configures the client.
type Option func(*DefaultClient)

// WithLogger sets the client's logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *DefaultClient) {
		c.log = log
	}
}

// WithMetrics sets the upload metrics.
func WithMetrics(metrics *telemetry.IngressMetrics) Option {
	return func(c *DefaultClient) {
		c.metrics = metrics
	}
}

// WithTransport sets the underlying HTTP transport, letting the caller
// stack instrumentation round trippers under the client.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *DefaultClient) {
		c.client.Transport = transport
	}
}

// New creates an Ingress client for the configured endpoint.
func New(cfg Config, opts ...Option) (*DefaultClient, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("ingress server URL is required")
	}
	if cfg.ServiceID == "" {
		return nil, errors.New("service ID is required")
	}
	if cfg.AuthToken == "" {
		return nil, errors.New("auth token is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	c := &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
		serverURL:  cfg.ServerURL,
		authToken:  cfg.AuthToken,
		serviceID:  cfg.ServiceID,
		identityID: cfg.IdentityID,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logger.For("ingress")
	}

	return c, nil
}

// uploadResponse is the body Ingress returns on an accepted upload.
type uploadResponse struct {
	RequestID string `json:"request_id"`
}

// UploadTarball posts the payload as multipart/form-data. Only a 202
// response is success; every failure is transient because the service
// regularly sheds load and the records stay on disk for the next attempt.
func (c *DefaultClient) UploadTarball(ctx context.Context, payload []byte) (string, error) {
	c.log.Info("Sending collected data")

	req, err := c.newUploadRequest(ctx, payload)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}

	c.log.Debugf("Posting payload to %s", c.serverURL)
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordUploadError(ctx, "transport")
		return "", exporter.Transient(fmt.Errorf("failed to post payload: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.metrics.RecordUploadError(ctx, "transport")
		return "", exporter.Transient(fmt.Errorf("failed to read upload response: %w", err))
	}

	if resp.StatusCode != http.StatusAccepted {
		c.log.Errorw("Posting payload failed",
			"status_code", resp.StatusCode,
			"response", string(body),
		)
		c.metrics.RecordUploadError(ctx, "status")
		return "", exporter.Transient(fmt.Errorf("data upload failed with response code: %d and text: %s",
			resp.StatusCode, string(body)))
	}

	var accepted uploadResponse
	if err := json.Unmarshal(body, &accepted); err != nil {
		c.metrics.RecordUploadError(ctx, "response")
		return "", exporter.Transient(fmt.Errorf("failed to decode upload response: %w", err))
	}
	if accepted.RequestID == "" {
		c.metrics.RecordUploadError(ctx, "response")
		return "", exporter.Transient(errors.New("upload response carries no request_id"))
	}

	c.log.Infof("Data uploaded with request_id: '%s'", accepted.RequestID)
	c.metrics.RecordUpload(ctx, int64(len(payload)))
	trace.SpanFromContext(ctx).SetAttributes(
		otel.AttrChunkBytes.Int(len(payload)),
		otel.AttrRequestID.String(accepted.RequestID),
	)

	return accepted.RequestID, nil
}

// newUploadRequest builds the multipart POST carrying the tarball as a
// single part named "file".
func (c *DefaultClient) newUploadRequest(ctx context.Context, payload []byte) (*http.Request, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, TarballFilename))
	header.Set("Content-Type", fmt.Sprintf(contentTypeFormat, c.serviceID))

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create payload part: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to write payload part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("User-Agent", fmt.Sprintf(userAgentFormat, c.identityID))
	req.Header.Set("Authorization", "Bearer "+c.authToken)

	return req, nil
}
