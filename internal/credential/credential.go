// ABOUTME: Bearer token providers for the agent service, chosen from the environment
// ABOUTME: Static tokens are checked for JWT expiry; otherwise OAuth2 client credentials or the Azure default chain

package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Environment variables read by FromEnvironment.
const (
	EnvToken         = "AGENT_SERVICE_TOKEN"
	EnvTenantID      = "AZURE_TENANT_ID"
	EnvClientID      = "AZURE_CLIENT_ID"
	EnvClientSecret  = "AZURE_CLIENT_SECRET"
	EnvAuthorityHost = "AZURE_AUTHORITY_HOST"
)

const (
	// DefaultScope is requested for client-credential tokens.
	DefaultScope         = "https://ai.azure.com/.default"
	DefaultAuthorityHost = "https://login.microsoftonline.com"
)

var (
	// ErrNoCredentials is returned when the credential environment is inconsistent.
	ErrNoCredentials = errors.New("no usable agent service credentials: set AGENT_SERVICE_TOKEN, or AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET")
	// ErrTokenExpired is returned instead of sending a token past its exp claim.
	ErrTokenExpired = errors.New("agent service token has expired")
)

// Provider supplies bearer tokens and names itself for logs.
type Provider interface {
	Token(ctx context.Context) (string, error)
	Name() string
}

// Static serves one fixed token.
type Static struct {
	token   string
	expires time.Time
	now     func() time.Time
}

// NewStatic wraps token. When token is a JWT its exp claim is read without
// verification so an expired token fails locally.
func NewStatic(token string) (*Static, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("token is empty")
	}
	s := &Static{token: token, now: time.Now}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.expires = exp.Time
		}
	}
	return s, nil
}

// Expires returns the token's exp claim, zero when unknown.
func (s *Static) Expires() time.Time { return s.expires }

func (s *Static) Token(ctx context.Context) (string, error) {
	if !s.expires.IsZero() && !s.now().Before(s.expires) {
		return "", fmt.Errorf("%w at %s", ErrTokenExpired, s.expires.Format(time.RFC3339))
	}
	return s.token, nil
}

func (s *Static) Name() string { return "static" }

// ClientCredentials fetches tokens with the OAuth2 client-credentials grant
// and reuses each until shortly before it expires.
type ClientCredentials struct {
	src oauth2.TokenSource
}

// ClientCredentialsConfig describes a service principal.
type ClientCredentialsConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// AuthorityHost defaults to DefaultAuthorityHost.
	AuthorityHost string
	// Scopes defaults to DefaultScope.
	Scopes []string
}

// NewClientCredentials builds a cached token source. ctx carries the HTTP
// client used for token requests (see oauth2.HTTPClient) and must outlive it.
func NewClientCredentials(ctx context.Context, cfg ClientCredentialsConfig) (*ClientCredentials, error) {
	if cfg.TenantID == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("tenant id, client id and client secret are required")
	}
	host := strings.TrimSuffix(cfg.AuthorityHost, "/")
	if host == "" {
		host = DefaultAuthorityHost
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", host, cfg.TenantID),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return &ClientCredentials{src: oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))}, nil
}

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	tok, err := c.src.Token()
	if err != nil {
		return "", fmt.Errorf("fetching client credentials token: %w", err)
	}
	return tok.AccessToken, nil
}

func (c *ClientCredentials) Name() string { return "client_credentials" }

// AzureDefault uses azidentity's default chain: environment, workload
// identity, managed identity, then the Azure CLI. The chain caches tokens.
type AzureDefault struct {
	cred   azcore.TokenCredential
	scopes []string
}

// NewAzureDefault builds the default chain. Scopes defaults to DefaultScope.
func NewAzureDefault(scopes ...string) (*AzureDefault, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure default credential: %w", err)
	}
	return newAzureDefault(cred, scopes), nil
}

func newAzureDefault(cred azcore.TokenCredential, scopes []string) *AzureDefault {
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	return &AzureDefault{cred: cred, scopes: scopes}
}

func (a *AzureDefault) Token(ctx context.Context) (string, error) {
	tok, err := a.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: a.scopes})
	if err != nil {
		return "", fmt.Errorf("fetching azure default credential token: %w", err)
	}
	return tok.Token, nil
}

func (a *AzureDefault) Name() string { return "azure_default" }

// FromEnvironment picks a provider: a static token, then a complete client
// secret, then the Azure default chain. A client secret without its tenant
// and client id is an error rather than a silent fallback.
func FromEnvironment(ctx context.Context) (Provider, error) {
	if tok := os.Getenv(EnvToken); strings.TrimSpace(tok) != "" {
		return NewStatic(tok)
	}

	tenant, client, secret := os.Getenv(EnvTenantID), os.Getenv(EnvClientID), os.Getenv(EnvClientSecret)
	if secret == "" {
		return NewAzureDefault()
	}
	if tenant == "" || client == "" {
		return nil, fmt.Errorf("%w (client credentials are incomplete)", ErrNoCredentials)
	}
	return NewClientCredentials(ctx, ClientCredentialsConfig{
		TenantID:      tenant,
		ClientID:      client,
		ClientSecret:  secret,
		AuthorityHost: os.Getenv(EnvAuthorityHost),
	})
}
