package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/security"
	"github.com/tranzio/tranzio-api/internal/repository"
)

// AccessTokenIssuer signs and parses session tokens. security.TokenManager implements it.
type AccessTokenIssuer interface {
	Issue(accountCode, email, registrantType string) (string, time.Time, error)
	Parse(token string) (*security.AccessTokenClaims, error)
	TTL() time.Duration
}

// LoginResult carries an issued session token.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	ExpiresIn time.Duration
	Account   domain.Account
}

// AuthService authenticates dealers against promoted accounts.
type AuthService struct {
	store     port.CredentialStore
	hasher    port.PasswordHasher
	tokens    AccessTokenIssuer
	// dummyHash is verified against when no account matches, so unknown
	// identifiers cost the same hashing work as wrong passwords.
	dummyHash string
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(store port.CredentialStore, hasher port.PasswordHasher, tokens AccessTokenIssuer) (*AuthService, error) {
	if store == nil || hasher == nil || tokens == nil {
		return nil, errors.New("auth service: store, hasher and token issuer are required")
	}
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("auth service: prepare dummy hash: %w", err)
	}
	return &AuthService{store: store, hasher: hasher, tokens: tokens, dummyHash: dummyHash}, nil
}

// Login validates credentials and issues an access token.
// identifier is either the account email or its dealer code.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if verr := requireFields(map[string]string{"identifier": identifier, "password": password}, "identifier", "password"); verr != nil {
		return nil, verr
	}

	account, err := s.store.GetAccountByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_, _ = s.hasher.Verify(password, s.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(account.AccountCode, account.Email, string(account.RegistrantType))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		ExpiresIn: s.tokens.TTL(),
		Account:   *account,
	}, nil
}

// ParseAccessToken validates a bearer token.
func (s *AuthService) ParseAccessToken(token string) (*security.AccessTokenClaims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// CurrentAccount loads the account a validated token refers to.
func (s *AuthService) CurrentAccount(ctx context.Context, accountCode string) (*domain.Account, error) {
	if strings.TrimSpace(accountCode) == "" {
		return nil, ErrInvalidAccessToken
	}
	account, err := s.store.GetAccountByIdentifier(ctx, accountCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidAccessToken
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}
