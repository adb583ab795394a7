package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bobmcallan/provsync/internal/common"
	"github.com/bobmcallan/provsync/internal/interfaces"
	"github.com/bobmcallan/provsync/internal/models"
)

// CredentialSource resolves a connection's opaque credentials reference to
// a bearer token.
type CredentialSource interface {
	Token(ctx context.Context, ref string) (string, error)
}

// EnvCredentials reads tokens from PROVSYNC_TOKEN_<REF>, with REF
// upper-cased and non-alphanumerics replaced by underscores.
type EnvCredentials struct{}

func (EnvCredentials) Token(_ context.Context, ref string) (string, error) {
	key := EnvKey(ref)
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s not set", key)
	}
	return v, nil
}

// EnvKey returns the environment variable holding the token for ref.
func EnvKey(ref string) string {
	var b strings.Builder
	b.WriteString("PROVSYNC_TOKEN_")
	for _, r := range strings.ToUpper(ref) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Compile-time interface check
var _ interfaces.ProviderClientFactory = (*Factory)(nil)

// Factory builds a Client per connection from the [providers] config.
type Factory struct {
	providers map[string]common.ProviderConfig
	creds     CredentialSource
	logger    *common.Logger
}

// NewFactory creates a factory. creds defaults to EnvCredentials.
func NewFactory(providers map[string]common.ProviderConfig, creds CredentialSource, logger *common.Logger) *Factory {
	if creds == nil {
		creds = EnvCredentials{}
	}
	return &Factory{providers: providers, creds: creds, logger: logger}
}

// ClientFor returns a client for conn's provider. A credential that cannot
// be resolved is reported as unauthorized so the connection is flagged for
// re-authentication rather than retried.
func (f *Factory) ClientFor(ctx context.Context, conn *models.Connection) (interfaces.ProviderClient, error) {
	cfg, ok := f.providers[conn.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", conn.Provider)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q has no base_url", conn.Provider)
	}

	token, err := f.creds.Token(ctx, conn.CredentialsRef)
	if err != nil {
		return nil, &models.ProviderError{Kind: models.ProviderErrorUnauthorized, Op: "resolve_credentials", Err: err}
	}

	opts := []ClientOption{
		WithLogger(f.logger),
		WithTimeout(cfg.GetTimeout()),
		WithPaths(cfg.Paths),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, WithRateLimit(cfg.RateLimit))
	}
	return NewClient(conn.Provider, cfg.BaseURL, token, opts...), nil
}
