package google

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/driverelay/internal/instrumentation"
	"github.com/teemow/driverelay/internal/logging"
)

// persistingTokenSource saves tokens to a CredentialStore whenever the
// underlying source hands out a new access token.
type persistingTokenSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	store   CredentialStore
	metrics *instrumentation.Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	last string // access token most recently seen
}

func newPersistingTokenSource(ctx context.Context, base oauth2.TokenSource, store CredentialStore, seed *oauth2.Token, metrics *instrumentation.Metrics, logger *slog.Logger) *persistingTokenSource {
	s := &persistingTokenSource{
		ctx:     ctx,
		base:    base,
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
	if seed != nil {
		s.last = seed.AccessToken
	}
	return s
}

// Token implements oauth2.TokenSource.
func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		s.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.OAuthResultFailure)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.AccessToken == s.last {
		return tok, nil
	}
	s.last = tok.AccessToken
	s.metrics.RecordOAuthTokenRefresh(s.ctx, instrumentation.OAuthResultSuccess)

	if s.store == nil {
		return tok, nil
	}
	// A failed save only costs another refresh on the next request.
	if err := s.store.Save(s.ctx, tok); err != nil {
		s.logger.Warn("failed to persist refreshed token", logging.Err(err))
	} else {
		s.logger.Debug("persisted refreshed token", slog.Time("expiry", tok.Expiry))
	}

	return tok, nil
}
