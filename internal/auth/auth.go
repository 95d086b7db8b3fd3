package auth

import (
	"context"
	"encoding/json"
	"fmt"
)

// ingressAuthRegistry is the Docker config entry whose credential the
// Ingress service accepts.
const ingressAuthRegistry = "cloud.openshift.com"

// Provider resolves the credentials the uploader presents to Ingress: the
// bearer token and the identity the uploads are attributed to.
type Provider interface {
	Credentials(ctx context.Context) (token string, identityID string, err error)
}

// Mode selects how credentials are obtained.
type Mode string

const (
	// ModeOpenShift reads the credentials from the cluster the exporter
	// runs in.
	ModeOpenShift Mode = "openshift"
	// ModeSSO exchanges Red Hat SSO service account credentials for an
	// Ingress token.
	ModeSSO Mode = "sso"
	// ModeManual uses explicitly configured credentials.
	ModeManual Mode = "manual"
)

// ParseMode validates a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOpenShift, ModeSSO, ModeManual:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid authentication mode: %q (valid modes: openshift, sso, manual)", s)
	}
}

// Options carries the mode-specific inputs for building a provider.
type Options struct {
	// AuthToken is the explicit Ingress token for manual mode.
	AuthToken string
	// IdentityID is required in manual mode. In sso mode it overrides the
	// identity derived from the token claims.
	IdentityID string
	// ClientID and ClientSecret are the SSO service account credentials.
	ClientID     string
	ClientSecret string
	// UseStage points sso mode at the Red Hat stage environment.
	UseStage bool
}

// NewProvider builds the provider for the given mode.
func NewProvider(mode Mode, opts Options) (Provider, error) {
	switch mode {
	case ModeOpenShift:
		return NewOpenShiftProvider()
	case ModeSSO:
		ssoOpts := []SSOOption{WithStage(opts.UseStage)}
		if opts.IdentityID != "" {
			ssoOpts = append(ssoOpts, WithIdentity(opts.IdentityID))
		}
		return NewSSOProvider(opts.ClientID, opts.ClientSecret, ssoOpts...)
	case ModeManual:
		return NewManualProvider(opts.AuthToken, opts.IdentityID)
	default:
		return nil, fmt.Errorf("invalid authentication mode: %q", mode)
	}
}

// Hint returns the operator guidance printed when credential resolution
// for the mode fails.
func Hint(mode Mode) string {
	switch mode {
	case ModeOpenShift:
		return "Ensure the exporter is running in an OpenShift cluster with proper permissions"
	case ModeSSO:
		return "Ensure CLIENT_ID and CLIENT_SECRET are set to valid SSO service account credentials"
	case ModeManual:
		return "Provide valid --ingress-server-auth-token and --identity-id"
	default:
		return ""
	}
}

// dockerConfig is the subset of a Docker config JSON document carrying
// registry credentials. Both the cluster pull secret and the SSO access
// token exchange respond in this shape.
type dockerConfig struct {
	Auths map[string]dockerConfigAuth `json:"auths"`
}

type dockerConfigAuth struct {
	Auth string `json:"auth"`
}

// ingressToken extracts the cloud.openshift.com credential from a Docker
// config JSON document.
func ingressToken(data []byte) (string, error) {
	var cfg dockerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("invalid Docker config JSON: %w", err)
	}
	entry, ok := cfg.Auths[ingressAuthRegistry]
	if !ok || entry.Auth == "" {
		return "", fmt.Errorf("no %s credential in Docker config", ingressAuthRegistry)
	}
	return entry.Auth, nil
}
