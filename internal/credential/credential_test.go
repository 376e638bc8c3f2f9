// ABOUTME: Tests for static and client-credential token providers
// ABOUTME: Uses an httptest token endpoint in place of Microsoft identity

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "relay",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestStatic_OpaqueToken(t *testing.T) {
	s, err := NewStatic("  opaque-token \n")
	require.NoError(t, err)

	assert.True(t, s.Expires().IsZero())
	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", tok)
	assert.Equal(t, "static", s.Name())
}

func TestStatic_Empty(t *testing.T) {
	_, err := NewStatic("   ")
	assert.Error(t, err)
}

func TestStatic_ValidJWT(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedJWT(t, exp)

	s, err := NewStatic(raw)
	require.NoError(t, err)
	assert.True(t, exp.Equal(s.Expires()))

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, raw, tok)
}

func TestStatic_ExpiredJWT(t *testing.T) {
	s, err := NewStatic(signedJWT(t, time.Now().Add(-time.Minute)))
	require.NoError(t, err)

	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestStatic_ExpiresWhileRunning(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	s, err := NewStatic(signedJWT(t, exp))
	require.NoError(t, err)

	s.now = func() time.Time { return exp.Add(time.Second) }
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func newTokenServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenant-1/oauth2/v2.0/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))
		assert.Equal(t, DefaultScope, r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_client"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "aad-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestClientCredentials_FetchesAndCaches(t *testing.T) {
	srv, calls := newTokenServer(t, http.StatusOK)

	cc, err := NewClientCredentials(context.Background(), ClientCredentialsConfig{
		TenantID:      "tenant-1",
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		AuthorityHost: srv.URL + "/",
	})
	require.NoError(t, err)
	assert.Equal(t, "client_credentials", cc.Name())

	for i := 0; i < 3; i++ {
		tok, err := cc.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "aad-token", tok)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientCredentials_Rejected(t *testing.T) {
	srv, _ := newTokenServer(t, http.StatusUnauthorized)

	cc, err := NewClientCredentials(context.Background(), ClientCredentialsConfig{
		TenantID:      "tenant-1",
		ClientID:      "client-1",
		ClientSecret:  "secret-1",
		AuthorityHost: srv.URL,
	})
	require.NoError(t, err)

	_, err = cc.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching client credentials token")
}

func TestClientCredentials_RequiresAllFields(t *testing.T) {
	_, err := NewClientCredentials(context.Background(), ClientCredentialsConfig{TenantID: "t", ClientID: "c"})
	assert.Error(t, err)
}

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvToken, EnvTenantID, EnvClientID, EnvClientSecret, EnvAuthorityHost} {
		t.Setenv(k, "")
	}
}

// fakeAzureCredential stands in for an azidentity credential.
type fakeAzureCredential struct {
	scopes [][]string
	err    error
}

func (f *fakeAzureCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.scopes = append(f.scopes, opts.Scopes)
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: "mi-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func TestAzureDefault_RequestsAgentScope(t *testing.T) {
	cred := &fakeAzureCredential{}
	p := newAzureDefault(cred, nil)

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mi-token", tok)
	assert.Equal(t, [][]string{{DefaultScope}}, cred.scopes)
	assert.Equal(t, "azure_default", p.Name())
}

func TestAzureDefault_ChainFailure(t *testing.T) {
	cred := &fakeAzureCredential{err: errors.New("no managed identity endpoint available")}
	p := newAzureDefault(cred, []string{"https://example.test/.default"})

	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no managed identity endpoint available")
	assert.Equal(t, [][]string{{"https://example.test/.default"}}, cred.scopes)
}

func TestFromEnvironment(t *testing.T) {
	t.Run("none falls back to azure default chain", func(t *testing.T) {
		clearCredentialEnv(t)
		p, err := FromEnvironment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "azure_default", p.Name())
	})

	t.Run("client id alone selects azure default chain", func(t *testing.T) {
		clearCredentialEnv(t)
		t.Setenv(EnvClientID, "managed-identity-client")
		p, err := FromEnvironment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "azure_default", p.Name())
	})

	t.Run("secret without client id", func(t *testing.T) {
		clearCredentialEnv(t)
		t.Setenv(EnvTenantID, "tenant-1")
		t.Setenv(EnvClientSecret, "secret-1")
		_, err := FromEnvironment(context.Background())
		assert.ErrorIs(t, err, ErrNoCredentials)
	})

	t.Run("static token wins", func(t *testing.T) {
		clearCredentialEnv(t)
		t.Setenv(EnvToken, "opaque")
		t.Setenv(EnvTenantID, "tenant-1")
		t.Setenv(EnvClientID, "client-1")
		t.Setenv(EnvClientSecret, "secret-1")
		p, err := FromEnvironment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "static", p.Name())
	})

	t.Run("client credentials", func(t *testing.T) {
		clearCredentialEnv(t)
		srv, _ := newTokenServer(t, http.StatusOK)
		t.Setenv(EnvTenantID, "tenant-1")
		t.Setenv(EnvClientID, "client-1")
		t.Setenv(EnvClientSecret, "secret-1")
		t.Setenv(EnvAuthorityHost, srv.URL)

		p, err := FromEnvironment(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "client_credentials", p.Name())
		tok, err := p.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "aad-token", tok)
	})
}
