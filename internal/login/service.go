package login

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/passagelab/passage/internal/identity"
	"github.com/passagelab/passage/internal/provider"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidRequest indicates the callback arrived without code or state.
	ErrInvalidRequest = errors.New("login: code and state are required")
	// ErrInvalidOrExpiredState indicates the state value matched no live auth request.
	ErrInvalidOrExpiredState = errors.New("login: unknown or already used state")
	// ErrTokenExchangeFailed indicates the provider rejected the code exchange
	// or returned an unusable token response.
	ErrTokenExchangeFailed = errors.New("login: token exchange failed")
	// ErrProfileFetchFailed indicates the provider profile was unavailable or incomplete.
	ErrProfileFetchFailed = errors.New("login: profile fetch failed")

	errMissingDatabase   = errors.New("login: database connection required")
	errMissingProvider   = errors.New("login: provider client required")
	errMissingIdentities = errors.New("login: identity service required")
	errMissingSessions   = errors.New("login: session minter required")
)

// ProviderClient is the outbound surface the flow needs from the OAuth provider.
type ProviderClient interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (provider.Credentials, error)
	FetchProfile(ctx context.Context, accessToken string) (provider.Profile, error)
}

// SessionMinter turns a resolved account into an opaque session token.
type SessionMinter interface {
	IssueSessionToken(ctx context.Context, accountID string) (string, int64, error)
}

// ServiceConfig describes the dependencies of the login flow.
type ServiceConfig struct {
	Database   *gorm.DB
	Provider   ProviderClient
	Identities *identity.Service
	Sessions   SessionMinter
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service drives the two inbound halves of the flow: issuing authorization
// redirects and validating provider callbacks.
type Service struct {
	db         *gorm.DB
	provider   ProviderClient
	identities *identity.Service
	sessions   SessionMinter
	ids        IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// Session is the terminal success outcome of a validated callback.
type Session struct {
	Token     string
	ExpiresIn int64
}

// NewService constructs the login flow service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	if cfg.Identities == nil {
		return nil, errMissingIdentities
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		provider:   cfg.Provider,
		identities: cfg.Identities,
		sessions:   cfg.Sessions,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}, nil
}

// BeginAuth persists a fresh auth request and returns the provider redirect URL.
// A persistence failure ends the attempt; the caller may simply re-initiate.
func (s *Service) BeginAuth(ctx context.Context) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("login: generate state id: %w", err)
	}

	request := AuthRequest{ID: id, CreatedAt: s.clock().UTC()}
	if err := s.db.WithContext(ctx).Create(&request).Error; err != nil {
		return "", fmt.Errorf("%w: persist auth request: %v", identity.ErrStoreUnavailable, err)
	}

	return s.provider.AuthCodeURL(request.ID), nil
}

// HandleCallback validates the provider callback and, on success, returns a
// minted session for the resolved account.
//
// Steps run strictly in sequence and short-circuit on the first failure. The
// auth request is consumed before any network call, so a replayed state value
// fails validation even while the first callback is still in flight.
func (s *Service) HandleCallback(ctx context.Context, code, state string) (Session, error) {
	code = strings.TrimSpace(code)
	state = strings.TrimSpace(state)
	if code == "" || state == "" {
		return Session{}, ErrInvalidRequest
	}

	if err := s.consumeAuthRequest(ctx, state); err != nil {
		return Session{}, err
	}

	credentials, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}

	profile, err := s.provider.FetchProfile(ctx, credentials.AccessToken)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProfileFetchFailed, err)
	}

	account, err := s.identities.Upsert(ctx, credentials.AccessToken, credentials.ExternalID, identity.Profile{
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
	})
	if err != nil {
		return Session{}, err
	}

	token, expiresIn, err := s.sessions.IssueSessionToken(ctx, account.ID)
	if err != nil {
		return Session{}, fmt.Errorf("login: mint session: %w", err)
	}

	s.logger.Info("login completed",
		zap.String("account_id", account.ID),
		zap.String("external_id", credentials.ExternalID))
	return Session{Token: token, ExpiresIn: expiresIn}, nil
}

// consumeAuthRequest deletes the auth request matching the state value.
// Delete-by-id doubles as the single-use check: zero affected rows means the
// state is unknown or already spent.
func (s *Service) consumeAuthRequest(ctx context.Context, state string) error {
	result := s.db.WithContext(ctx).Where("id = ?", state).Delete(&AuthRequest{})
	if result.Error != nil {
		return fmt.Errorf("%w: consume auth request: %v", identity.ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrInvalidOrExpiredState
	}
	return nil
}
