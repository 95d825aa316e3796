package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teemow/driverelay/internal/instrumentation"
	"github.com/teemow/driverelay/internal/logging"
)

// ErrMissingCode is returned by Exchange when no authorization code was supplied.
var ErrMissingCode = errors.New("authorization code is required")

// LoadClientConfig reads a Google OAuth client JSON file ("web" or "installed"
// credentials) and returns the OAuth2 configuration for the Drive scopes.
// The first redirect URI listed in the file is used.
func LoadClientConfig(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read OAuth client file: %w", err)
	}

	conf, err := google.ConfigFromJSON(data, DefaultOAuthScopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OAuth client file %s: %w", path, err)
	}
	if conf.RedirectURL == "" {
		return nil, fmt.Errorf("OAuth client file %s has no redirect URI", path)
	}

	return conf, nil
}

// Authenticator issues consent URLs, exchanges authorization codes and
// builds authenticated HTTP clients. It is safe for concurrent use.
type Authenticator struct {
	config  *oauth2.Config
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithMetrics records code exchanges and token refreshes.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuthenticator wraps an OAuth2 client configuration.
func NewAuthenticator(config *oauth2.Config, opts ...Option) *Authenticator {
	a := &Authenticator{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.WithService(a.logger, instrumentation.ServiceOAuth)
	return a
}

// ClientID returns the configured OAuth client id.
func (a *Authenticator) ClientID() string {
	return a.config.ClientID
}

// AuthURL returns the consent URL. It requests offline access so that a
// refresh token is issued, and forces the consent prompt so the refresh token
// is issued again on every consent.
func (a *Authenticator) AuthURL() string {
	return a.config.AuthCodeURL("", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token pair.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		a.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, ErrMissingCode
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange)
	defer span.End()

	start := time.Now()
	tok, err := a.config.Exchange(ctx, code)
	duration := time.Since(start)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		a.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange, instrumentation.StatusError, duration)
		a.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultFailure)
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}

	instrumentation.SetSpanSuccess(span)
	a.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, instrumentation.OperationExchange, instrumentation.StatusSuccess, duration)
	a.metrics.RecordOAuthAuth(ctx, instrumentation.OAuthResultSuccess)

	a.logger.Debug("authorization code exchanged",
		slog.String("access_token", logging.SanitizeToken(tok.AccessToken)),
		slog.Bool("has_refresh_token", tok.RefreshToken != ""),
		slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// TokenSource returns a token source seeded with tok that refreshes through
// the OAuth client and saves every newly minted token to store.
func (a *Authenticator) TokenSource(ctx context.Context, store CredentialStore, tok *oauth2.Token) oauth2.TokenSource {
	return newPersistingTokenSource(ctx, a.config.TokenSource(ctx, tok), store, tok, a.metrics, a.logger)
}

// Client returns an HTTP client that authenticates requests with tok,
// refreshing and persisting it as needed.
func (a *Authenticator) Client(ctx context.Context, store CredentialStore, tok *oauth2.Token) *http.Client {
	return oauth2.NewClient(ctx, a.TokenSource(ctx, store, tok))
}
