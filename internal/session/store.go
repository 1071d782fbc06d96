// Package session owns the current identity and its credential lifecycle:
// login, registration, logout, and restore-on-startup. Validation runs before
// any network call, and logout guarantees the realtime channel is torn down
// before the durable credential is cleared.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nfrund/chatlink/internal/domain"
	"github.com/nfrund/chatlink/internal/rest"
)

// Realtime is the channel surface the session drives: connect on login,
// disconnect on logout.
type Realtime interface {
	Connect(ctx context.Context, credential string) error
	Disconnect() error
}

// AuthAPI is the REST surface the session needs.
type AuthAPI interface {
	Login(ctx context.Context, req rest.LoginRequest) (*rest.AuthResponse, error)
	Register(ctx context.Context, req rest.RegisterRequest) (*rest.AuthResponse, error)
}

// Store is the session store.
type Store struct {
	api      AuthAPI
	realtime Realtime
	creds    *CredentialStore
	validate *validator.Validate
	logger   *slog.Logger

	mu       sync.RWMutex
	identity *domain.Identity
}

// New creates the session store. The credential store must already point at
// the client's state directory.
func New(api AuthAPI, realtime Realtime, creds *CredentialStore) *Store {
	return &Store{
		api:      api,
		realtime: realtime,
		creds:    creds,
		validate: validator.New(),
		logger:   slog.Default().With("service", "session"),
	}
}

// Current returns the live identity, or nil when logged out.
func (s *Store) Current() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Token returns the current bearer credential, or "" when logged out. It is
// handed to the REST client as its token source.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return ""
	}
	return s.identity.Credential
}

type loginInput struct {
	Username string `validate:"required,min=3"`
	Password string `validate:"required,min=6"`
}

type registerInput struct {
	Username string `validate:"required,min=3"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

// Login authenticates, persists the credential and identity durably, and
// brings up the realtime channel with the new credential.
func (s *Store) Login(ctx context.Context, username, password string) (*domain.Identity, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)

	if err := s.validate.Struct(loginInput{Username: username, Password: password}); err != nil {
		return nil, asValidationError(err)
	}

	resp, err := s.api.Login(ctx, rest.LoginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, resp)
}

// Register creates an account and logs the new user in.
func (s *Store) Register(ctx context.Context, username, email, password string) (*domain.Identity, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	if err := s.validate.Struct(registerInput{Username: username, Email: email, Password: password}); err != nil {
		return nil, asValidationError(err)
	}

	resp, err := s.api.Register(ctx, rest.RegisterRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, resp)
}

// establish records a successful auth response: persist first, then connect.
func (s *Store) establish(ctx context.Context, resp *rest.AuthResponse) (*domain.Identity, error) {
	id := &domain.Identity{
		UserID:     resp.UserID,
		Username:   resp.Username,
		Credential: resp.Token,
	}

	if err := s.creds.Save(id); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()

	if err := s.realtime.Connect(ctx, id.Credential); err != nil {
		// Auth succeeded; the channel manager reconnects on its own once the
		// backend is reachable, so a failed first dial is not a login failure.
		s.logger.Warn("Realtime connect failed after login", "error", err)
	}

	return id, nil
}

// Logout tears the session down in a fixed order: disconnect the realtime
// channel, clear the durable credential and identity, then report. No stale
// authenticated channel can outlive the session.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.realtime.Disconnect(); err != nil {
		s.logger.Warn("Realtime disconnect failed during logout", "error", err)
	}

	if err := s.creds.Clear(); err != nil {
		return err
	}

	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
	return nil
}

// ForceLogout is the channel manager's unauthorized delegate: the server
// rejected the credential mid-session, so the session ends now.
func (s *Store) ForceLogout() {
	if err := s.Logout(context.Background()); err != nil {
		s.logger.Error("Forced logout failed", "error", err)
	}
}

// Restore loads the persisted identity at startup. An expired credential is
// discarded rather than restored, keeping the invariant that a non-nil
// identity implies a usable token. Returns nil when there is nothing to
// restore.
func (s *Store) Restore(ctx context.Context) *domain.Identity {
	id, err := s.creds.Load()
	if err != nil {
		s.logger.Warn("Could not read persisted credentials", "error", err)
		return nil
	}
	if id == nil {
		return nil
	}

	if credentialExpired(id.Credential, time.Now()) {
		s.logger.Info("Persisted credential expired, clearing", "username", id.Username)
		_ = s.creds.Clear()
		return nil
	}

	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()

	if err := s.realtime.Connect(ctx, id.Credential); err != nil {
		s.logger.Warn("Realtime connect failed after restore", "error", err)
	}
	return id
}

// credentialExpired inspects the token's exp claim without verifying the
// signature; verification is the server's job, the client only needs to know
// whether presenting the token is pointless.
func credentialExpired(token string, now time.Time) bool {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return true
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}
	return exp.Before(now)
}
