package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/lightspeed-core/lightspeed-to-dataverse-exporter/pkg/logger"
)

const (
	prodTokenURL  = "https://sso.redhat.com/auth/realms/redhat-external/protocol/openid-connect/token"
	stageTokenURL = "https://sso.stage.redhat.com/auth/realms/redhat-external/protocol/openid-connect/token"

	prodAccessTokenURL  = "https://api.openshift.com/api/accounts_mgmt/v1/access_token"
	stageAccessTokenURL = "https://api.stage.openshift.com/api/accounts_mgmt/v1/access_token"

	// ssoScope is the OAuth scope the accounts management API requires.
	ssoScope = "api.console"

	// ssoTimeout bounds each request of the credential exchange.
	ssoTimeout = 10 * time.Second

	// fallbackIdentity attributes uploads when the token carries no
	// usable identity claim.
	fallbackIdentity = "unknown"

	// maxExchangeBody caps how much of the exchange response is read.
	maxExchangeBody = 1 << 20
)

// SSOProvider exchanges Red Hat SSO service account credentials for an
// Ingress token through the accounts management API.
type SSOProvider struct {
	clientID     string
	clientSecret string
	stage        bool

	tokenURL       string
	accessTokenURL string

	identity   string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// SSOOption is a function that configures the provider.
type SSOOption func(*SSOProvider)

// WithStage points the provider at the Red Hat stage environment.
func WithStage(use bool) SSOOption {
	return func(p *SSOProvider) {
		p.stage = use
	}
}

// WithIdentity overrides the identity derived from the token claims.
func WithIdentity(identity string) SSOOption {
	return func(p *SSOProvider) {
		p.identity = identity
	}
}

// WithSSOEndpoints overrides the SSO and accounts management URLs.
func WithSSOEndpoints(tokenURL, accessTokenURL string) SSOOption {
	return func(p *SSOProvider) {
		p.tokenURL = tokenURL
		p.accessTokenURL = accessTokenURL
	}
}

// WithSSOLogger sets the provider's logger.
func WithSSOLogger(log *zap.SugaredLogger) SSOOption {
	return func(p *SSOProvider) {
		p.log = log
	}
}

// NewSSOProvider creates a provider for the given service account.
func NewSSOProvider(clientID, clientSecret string, opts ...SSOOption) (*SSOProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("SSO authentication requires both a client ID and a client secret")
	}

	p := &SSOProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tokenURL == "" {
		p.tokenURL = prodTokenURL
		p.accessTokenURL = prodAccessTokenURL
		if p.stage {
			p.tokenURL = stageTokenURL
			p.accessTokenURL = stageAccessTokenURL
		}
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: ssoTimeout}
	}
	if p.log == nil {
		p.log = logger.For("auth")
	}
	return p, nil
}

// Credentials runs the client credentials grant against Red Hat SSO and
// exchanges the resulting access token for the Ingress token.
func (p *SSOProvider) Credentials(ctx context.Context) (string, string, error) {
	cfg := &clientcredentials.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		TokenURL:     p.tokenURL,
		Scopes:       []string{ssoScope},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", "", fmt.Errorf("failed to authenticate with Red Hat SSO: %w", err)
	}
	p.log.Debug("Obtained SSO access token")

	token, err := p.exchangeToken(ctx, tok.AccessToken)
	if err != nil {
		return "", "", err
	}

	identity := p.identity
	if identity == "" {
		identity = identityFromToken(tok.AccessToken)
	}
	p.log.Infof("Resolved SSO identity: %s", identity)
	return token, identity, nil
}

// exchangeToken trades the SSO access token for the Ingress credential.
func (p *SSOProvider) exchangeToken(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.accessTokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create access token request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to request the Ingress token: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeBody))
	if err != nil {
		return "", fmt.Errorf("failed to read the access token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("access token request failed with response code: %d and text: %s", resp.StatusCode, string(body))
	}
	token, err := ingressToken(body)
	if err != nil {
		return "", fmt.Errorf("unexpected access token response: %w", err)
	}
	return token, nil
}

// identityFromToken pulls an identity out of the access token claims
// without verifying the signature. The token was just issued over TLS;
// the claims only label uploads.
func identityFromToken(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return fallbackIdentity
	}
	if v, ok := claims["preferred_username"].(string); ok && v != "" {
		return v
	}
	if v, ok := claims["sub"].(string); ok && v != "" {
		return v
	}
	return fallbackIdentity
}
