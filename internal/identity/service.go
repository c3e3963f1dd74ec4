package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const accountSecretBytes = 32

var (
	// ErrStoreUnavailable indicates the durable store rejected a read or write.
	ErrStoreUnavailable = errors.New("identity: store unavailable")
	// ErrNotLinked indicates no link exists for the queried account.
	ErrNotLinked = errors.New("identity: account has no provider link")
	// ErrInvalidExternalID indicates the provider identity lacked a usable identifier.
	ErrInvalidExternalID = errors.New("identity: invalid external id")

	errMissingDatabase = errors.New("identity: database connection required")
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps external-provider identities onto local accounts.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
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
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// Upsert resolves the account bound to the supplied external identity,
// creating account and link on first login and refreshing the stored access
// token on subsequent ones.
//
// The store enforces no uniqueness on external_id, so two first logins for the
// same identity may both observe "not found" and both create an account+link
// pair. The not-found branch therefore re-runs the whole resolution after
// creating its pair: the oldest-first query makes every concurrent caller
// converge on the first-created link, and any later pair stays orphaned and is
// never surfaced. The re-run must not be short-circuited to the just-created
// account.
func (s *Service) Upsert(ctx context.Context, accessToken, externalID string, profile Profile) (Account, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Account{}, ErrInvalidExternalID
	}

	for {
		link, err := s.oldestLink(ctx, "external_id = ?", externalID)
		if err == nil {
			return s.resolveExisting(ctx, link, accessToken)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Account{}, fmt.Errorf("%w: query link: %v", ErrStoreUnavailable, err)
		}

		if err := s.createPair(ctx, accessToken, externalID, profile); err != nil {
			return Account{}, err
		}
		// Fall through to re-run the lookup so concurrent creators converge
		// on the oldest link.
	}
}

// LinkForAccount returns the effective (oldest) link owned by the account.
func (s *Service) LinkForAccount(ctx context.Context, accountID string) (Link, error) {
	link, err := s.oldestLink(ctx, "account_id = ?", accountID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Link{}, ErrNotLinked
	}
	if err != nil {
		return Link{}, fmt.Errorf("%w: query link: %v", ErrStoreUnavailable, err)
	}
	return link, nil
}

func (s *Service) oldestLink(ctx context.Context, query string, arg string) (Link, error) {
	var link Link
	err := s.db.WithContext(ctx).
		Where(query, arg).
		Order("created_at ASC, id ASC").
		First(&link).
		Error
	return link, err
}

func (s *Service) resolveExisting(ctx context.Context, link Link, accessToken string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).
		Where("id = ?", link.AccountID).
		First(&account).
		Error
	if err != nil {
		return Account{}, fmt.Errorf("%w: load account: %v", ErrStoreUnavailable, err)
	}

	// Unchanged tokens must not trigger a write.
	if link.AccessToken != accessToken {
		err := s.db.WithContext(ctx).
			Model(&Link{}).
			Where("id = ?", link.ID).
			Updates(map[string]interface{}{
				"access_token": accessToken,
				"updated_at":   s.clock().UTC(),
			}).
			Error
		if err != nil {
			return Account{}, fmt.Errorf("%w: refresh token: %v", ErrStoreUnavailable, err)
		}
	}

	return account, nil
}

func (s *Service) createPair(ctx context.Context, accessToken, externalID string, profile Profile) error {
	accountID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("identity: generate account id: %w", err)
	}
	secret, err := newAccountSecret()
	if err != nil {
		return err
	}

	now := s.clock().UTC()
	account := Account{
		ID:        accountID.String(),
		Secret:    secret,
		CreatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return fmt.Errorf("%w: create account: %v", ErrStoreUnavailable, err)
	}

	link := Link{
		ExternalID:  externalID,
		AccessToken: accessToken,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		AccountID:   account.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		return fmt.Errorf("%w: create link: %v", ErrStoreUnavailable, err)
	}

	s.logger.Info("created account for external identity",
		zap.String("account_id", account.ID),
		zap.String("external_id", externalID))
	return nil
}

func newAccountSecret() (string, error) {
	buf := make([]byte, accountSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generate account secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
