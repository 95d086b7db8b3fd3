// Package config loads, resolves, and validates the exporter settings.
//
// Settings come from four layers: built-in defaults, an optional YAML
// file, environment variables, and command-line flags, with later layers
// winning. The auth provider may replace the credential pair after
// resolution.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/internal/telemetry"
)

const (
	// DefaultCollectionIntervalSeconds is the pause between collection
	// cycles. Zero means collect once and exit.
	DefaultCollectionIntervalSeconds = 7200

	// DefaultRetryIntervalSeconds is the pause before retrying a failed
	// collection cycle.
	DefaultRetryIntervalSeconds = 300

	// DefaultIngressTimeoutSeconds bounds each upload request.
	DefaultIngressTimeoutSeconds = 30

	// DefaultIdentityID labels uploads when no provider, flag, or file
	// supplies an identity.
	DefaultIdentityID = "lightspeed-exporter"

	// redactedValue replaces secrets in the resolved-settings dump.
	redactedValue = "**********"

	// xdgConfigPath is the default config file lookup, relative to the
	// XDG config home.
	xdgConfigPath = "lightspeed-exporter/config.yaml"
)

// Settings is the fully resolved exporter configuration. Interval fields
// carry whole seconds, matching the file format; use the duration
// accessors when wiring components.
type Settings struct {
	// DataDir is the directory scanned for records. Required.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// ServiceID names the service on the Ingress side. Required.
	ServiceID string `json:"service_id" yaml:"service_id"`

	// IngressServerURL is the upload endpoint. Required.
	IngressServerURL string `json:"ingress_server_url" yaml:"ingress_server_url"`

	// IngressServerAuthToken is the bearer token for manual mode. The
	// auth provider overwrites it in the other modes.
	IngressServerAuthToken string `json:"ingress_server_auth_token,omitempty" yaml:"ingress_server_auth_token,omitempty"`

	// IdentityID attributes uploads to a cluster or account.
	IdentityID string `json:"identity_id,omitempty" yaml:"identity_id,omitempty"`

	// CollectionIntervalSeconds is the pause between cycles; zero
	// selects single-shot operation.
	CollectionIntervalSeconds int `json:"collection_interval" yaml:"collection_interval"`

	// RetryIntervalSeconds is the pause before retrying a failed cycle.
	RetryIntervalSeconds int `json:"retry_interval" yaml:"retry_interval"`

	// IngressConnectionTimeoutSeconds bounds each upload request.
	IngressConnectionTimeoutSeconds int `json:"ingress_connection_timeout" yaml:"ingress_connection_timeout"`

	// CleanupAfterSend removes records from disk once uploaded.
	CleanupAfterSend bool `json:"cleanup_after_send" yaml:"cleanup_after_send"`

	// AllowedSubdirs restricts collection to the named top-level
	// subdirectories. Empty collects everything.
	AllowedSubdirs []string `json:"allowed_subdirs,omitempty" yaml:"allowed_subdirs,omitempty"`

	// OpsAddress is the operational listener address. Empty disables the
	// listener.
	OpsAddress string `json:"ops_address,omitempty" yaml:"ops_address,omitempty"`

	// Telemetry configures the OpenTelemetry providers. Nil or disabled
	// selects no-op providers.
	Telemetry *telemetry.Config `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}

// Default returns the built-in settings layer.
func Default() Settings {
	return Settings{
		CollectionIntervalSeconds:       DefaultCollectionIntervalSeconds,
		RetryIntervalSeconds:            DefaultRetryIntervalSeconds,
		IngressConnectionTimeoutSeconds: DefaultIngressTimeoutSeconds,
		CleanupAfterSend:                true,
	}
}

// CollectionInterval returns the cycle pause as a duration.
func (s *Settings) CollectionInterval() time.Duration {
	return time.Duration(s.CollectionIntervalSeconds) * time.Second
}

// RetryInterval returns the retry pause as a duration.
func (s *Settings) RetryInterval() time.Duration {
	return time.Duration(s.RetryIntervalSeconds) * time.Second
}

// IngressConnectionTimeout returns the upload request bound as a duration.
func (s *Settings) IngressConnectionTimeout() time.Duration {
	return time.Duration(s.IngressConnectionTimeoutSeconds) * time.Second
}

// File is the optional YAML layer. Pointer fields distinguish an absent
// key from an explicit zero.
type File struct {
	DataDir                  *string  `yaml:"data_dir"`
	ServiceID                *string  `yaml:"service_id"`
	IngressServerURL         *string  `yaml:"ingress_server_url"`
	IngressServerAuthToken   *string  `yaml:"ingress_server_auth_token"`
	IdentityID               *string  `yaml:"identity_id"`
	CollectionInterval       *int     `yaml:"collection_interval"`
	RetryInterval            *int     `yaml:"retry_interval"`
	IngressConnectionTimeout *int     `yaml:"ingress_connection_timeout"`
	CleanupAfterSend         *bool    `yaml:"cleanup_after_send"`
	AllowedSubdirs           []string `yaml:"allowed_subdirs"`
	OpsAddress               *string  `yaml:"ops_address"`

	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// Overrides carries the flag and environment layer. Nil fields were not
// supplied.
type Overrides struct {
	DataDir                  *string
	ServiceID                *string
	IngressServerURL         *string
	IngressServerAuthToken   *string
	IdentityID               *string
	CollectionInterval       *int
	RetryInterval            *int
	IngressConnectionTimeout *int
	CleanupAfterSend         *bool
	AllowedSubdirs           []string
	OpsAddress               *string
	TelemetryEnabled         *bool
	TelemetryEndpoint        *string
}

// Option configures the file loader.
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading the YAML layer.
type loaderConfig struct {
	path     string
	required bool
}

// WithPath loads the YAML layer from an explicit file path.
func WithPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		cfg.required = true
		return nil
	}
}

// WithXDGLookup searches the XDG config home for the default config file.
// Finding nothing is not an error; the layer is simply empty.
func WithXDGLookup() Option {
	return func(cfg *loaderConfig) error {
		if cfg.path != "" {
			return nil
		}
		path, err := xdg.SearchConfigFile(xdgConfigPath)
		if err != nil {
			return nil
		}
		cfg.path = path
		return nil
	}
}

// LoadFile reads and parses the YAML settings layer. With no options, or
// when the XDG lookup finds nothing, the returned layer is empty.
func LoadFile(opts ...Option) (*File, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return &File{}, nil
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unknown keys are errors so a typo cannot silently disable a
	// setting.
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return &file, nil
}

// Resolve merges the layers into final settings: defaults, then the file,
// then the overrides. The identity falls back to DefaultIdentityID when
// no layer supplies one.
func Resolve(file *File, overrides Overrides) Settings {
	s := Default()
	if file != nil {
		applyString(&s.DataDir, file.DataDir)
		applyString(&s.ServiceID, file.ServiceID)
		applyString(&s.IngressServerURL, file.IngressServerURL)
		applyString(&s.IngressServerAuthToken, file.IngressServerAuthToken)
		applyString(&s.IdentityID, file.IdentityID)
		applyInt(&s.CollectionIntervalSeconds, file.CollectionInterval)
		applyInt(&s.RetryIntervalSeconds, file.RetryInterval)
		applyInt(&s.IngressConnectionTimeoutSeconds, file.IngressConnectionTimeout)
		applyBool(&s.CleanupAfterSend, file.CleanupAfterSend)
		if file.AllowedSubdirs != nil {
			s.AllowedSubdirs = file.AllowedSubdirs
		}
		applyString(&s.OpsAddress, file.OpsAddress)
		if file.Telemetry != nil {
			cp := *file.Telemetry
			s.Telemetry = &cp
		}
	}

	applyString(&s.DataDir, overrides.DataDir)
	applyString(&s.ServiceID, overrides.ServiceID)
	applyString(&s.IngressServerURL, overrides.IngressServerURL)
	applyString(&s.IngressServerAuthToken, overrides.IngressServerAuthToken)
	applyString(&s.IdentityID, overrides.IdentityID)
	applyInt(&s.CollectionIntervalSeconds, overrides.CollectionInterval)
	applyInt(&s.RetryIntervalSeconds, overrides.RetryInterval)
	applyInt(&s.IngressConnectionTimeoutSeconds, overrides.IngressConnectionTimeout)
	applyBool(&s.CleanupAfterSend, overrides.CleanupAfterSend)
	if overrides.AllowedSubdirs != nil {
		s.AllowedSubdirs = overrides.AllowedSubdirs
	}
	applyString(&s.OpsAddress, overrides.OpsAddress)
	if overrides.TelemetryEnabled != nil || overrides.TelemetryEndpoint != nil {
		if s.Telemetry == nil {
			s.Telemetry = &telemetry.Config{}
		}
		applyBool(&s.Telemetry.Enabled, overrides.TelemetryEnabled)
		applyString(&s.Telemetry.Endpoint, overrides.TelemetryEndpoint)
	}

	if s.IdentityID == "" {
		s.IdentityID = DefaultIdentityID
	}
	return s
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func applyInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// FieldError reports one invalid setting.
type FieldError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface.
func (e FieldError) Error() string {
	if e.Value == nil || e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationError aggregates every invalid setting found in one pass.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the resolved settings, reporting every problem rather
// than the first.
func (s *Settings) Validate() error {
	var fields []FieldError

	switch {
	case s.DataDir == "":
		fields = append(fields, FieldError{Field: "data_dir", Value: s.DataDir, Message: "is required"})
	default:
		if info, err := os.Stat(s.DataDir); err != nil {
			fields = append(fields, FieldError{Field: "data_dir", Value: s.DataDir, Message: "does not exist"})
		} else if !info.IsDir() {
			fields = append(fields, FieldError{Field: "data_dir", Value: s.DataDir, Message: "is not a directory"})
		}
	}

	if s.ServiceID == "" {
		fields = append(fields, FieldError{Field: "service_id", Value: s.ServiceID, Message: "is required"})
	}

	switch {
	case s.IngressServerURL == "":
		fields = append(fields, FieldError{Field: "ingress_server_url", Value: s.IngressServerURL, Message: "is required"})
	default:
		if u, err := url.Parse(s.IngressServerURL); err != nil || !u.IsAbs() {
			fields = append(fields, FieldError{
				Field: "ingress_server_url", Value: s.IngressServerURL, Message: "must be an absolute URL",
			})
		}
	}

	if s.CollectionIntervalSeconds < 0 {
		fields = append(fields, FieldError{
			Field: "collection_interval", Value: s.CollectionIntervalSeconds, Message: "must not be negative",
		})
	}
	if s.RetryIntervalSeconds <= 0 {
		fields = append(fields, FieldError{
			Field: "retry_interval", Value: s.RetryIntervalSeconds, Message: "must be positive",
		})
	}
	if s.IngressConnectionTimeoutSeconds <= 0 {
		fields = append(fields, FieldError{
			Field: "ingress_connection_timeout", Value: s.IngressConnectionTimeoutSeconds, Message: "must be positive",
		})
	}

	for _, sub := range s.AllowedSubdirs {
		if sub == "" || strings.ContainsRune(sub, filepath.Separator) || sub == ".." {
			fields = append(fields, FieldError{
				Field: "allowed_subdirs", Value: sub, Message: "must be a bare directory name",
			})
		}
	}

	if err := s.Telemetry.Validate(); err != nil {
		fields = append(fields, FieldError{Field: "telemetry", Value: "", Message: err.Error()})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Dump renders the settings as indented, key-sorted JSON with the auth
// token redacted.
func (s Settings) Dump() (string, error) {
	redacted := s
	if redacted.IngressServerAuthToken != "" {
		redacted.IngressServerAuthToken = redactedValue
	}

	// Round-trip through YAML so the output keys come back sorted.
	y, err := sigsyaml.Marshal(redacted)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}
	j, err := sigsyaml.YAMLToJSON(y)
	if err != nil {
		return "", fmt.Errorf("failed to convert settings to JSON: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, j, "", "  "); err != nil {
		return "", fmt.Errorf("failed to indent settings JSON: %w", err)
	}
	return buf.String(), nil
}
