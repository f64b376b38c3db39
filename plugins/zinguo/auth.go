package zinguo

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const storeTimeout = 10 * time.Second

// TokenStore persists the bearer token across restarts.
// Load returns an empty token when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

type authenticator interface {
	Login(ctx context.Context, account, password string) (string, error)
}

// Session owns the bearer token. Reads never perform I/O; a missing token
// triggers one login no matter how many callers ask for it at once.
type Session struct {
	auth     authenticator
	account  string
	password string
	timeout  time.Duration
	store    TokenStore
	logger   *slog.Logger

	mu    sync.RWMutex
	token string

	group singleflight.Group
}

func NewSession(auth authenticator, account, password string, timeout time.Duration, store TokenStore, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Session{
		auth:     auth,
		account:  account,
		password: password,
		timeout:  timeout,
		store:    store,
		logger:   logger,
	}
}

// Seed loads a persisted token, if any. A stale token is caught by the
// normal 401 renewal path.
func (s *Session) Seed(ctx context.Context) {
	if s.store == nil {
		return
	}
	token, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("load persisted token failed", "error", err)
		return
	}
	if token == "" {
		return
	}
	s.mu.Lock()
	if s.token == "" {
		s.token = token
	}
	s.mu.Unlock()
	tokenPresent.Set(1)
	s.logger.Debug("seeded token from store")
}

// Token returns the held token, or "" when unauthenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Authenticated() bool {
	return s.Token() != ""
}

// EnsureAuthenticated returns the held token, logging in first when there is none.
func (s *Session) EnsureAuthenticated(ctx context.Context) (string, error) {
	if token := s.Token(); token != "" {
		return token, nil
	}

	ch := s.group.DoChan("login", func() (any, error) {
		if token := s.Token(); token != "" {
			return token, nil
		}
		// Shared by every waiter, so it must outlive any single caller.
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.login(loginCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Renew drops stale if it is still the held token and logs in again.
// Callers that observed the same rejected token share one login.
func (s *Session) Renew(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	if s.token == stale {
		s.token = ""
	}
	s.mu.Unlock()
	return s.EnsureAuthenticated(ctx)
}

// Invalidate clears the token. Safe to call repeatedly from any goroutine.
func (s *Session) Invalidate() {
	s.mu.Lock()
	had := s.token != ""
	s.token = ""
	s.mu.Unlock()

	tokenPresent.Set(0)
	if !had || s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("clear persisted token failed", "error", err)
	}
}

func (s *Session) login(ctx context.Context) (string, error) {
	token, err := s.auth.Login(ctx, s.account, s.password)
	if err != nil {
		loginTotal.WithLabelValues(Kind(err).String()).Inc()
		if IsTerminal(err) {
			s.logger.Error("login rejected", "account", s.account, "error", err)
		} else {
			s.logger.Warn("login failed", "account", s.account, "error", err)
		}
		return "", err
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	loginTotal.WithLabelValues("success").Inc()
	tokenPresent.Set(1)
	s.logger.Debug("login successful", "account", s.account)

	if s.store != nil {
		if err := s.store.Save(ctx, token); err != nil {
			s.logger.Warn("persist token failed", "error", err)
		}
	}
	return token, nil
}
