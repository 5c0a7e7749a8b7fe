// Package service implements the account lifecycle: signup, login, logout,
// account deletion and email verification. Username uniqueness is delegated
// to the guard; this package adds credentials, tokens and notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/atinyakov/accounts/internal/guard"
	"github.com/atinyakov/accounts/internal/models"
	"github.com/atinyakov/accounts/internal/token"
	"go.uber.org/zap"
)

// Guard is the uniqueness-guarded view of the account store.
type Guard interface {
	CheckAndReserve(ctx context.Context, username string) (guard.Reservation, error)
	CommitCreate(ctx context.Context, draft *models.Account) (*models.Account, error)
	ResolveForAuth(ctx context.Context, username string) (*models.Account, error)
	CommitDelete(ctx context.Context, username string) error
	Refresh(ctx context.Context, acc *models.Account)
}

// VerificationStore reads and updates the verification state of accounts
// directly in the database.
type VerificationStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	UpdateVerification(ctx context.Context, id int64, verified bool, token *string) error
}

// Hasher hashes and checks passwords.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) (bool, error)
}

// Tokens issues session and verification tokens.
type Tokens interface {
	Issue(accountID int64, username string) (string, error)
	IssueVerification(username string) (string, error)
	VerifyVerification(token string) (*token.Claims, error)
}

// Notifier delivers email.
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) error
}

// Revoker deny-lists session tokens.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}

// Options toggles optional parts of the lifecycle.
type Options struct {
	// EmailVerification requires new accounts to confirm their email
	// before they can log in.
	EmailVerification bool
	// PublicBaseURL prefixes verification links, e.g. https://example.com.
	PublicBaseURL string
}

// SignupInput is the data needed to create an account.
type SignupInput struct {
	Name     string
	Email    string
	Username string
	Password string
}

// Session is an authenticated account with its bearer token.
type Session struct {
	Account *models.Account
	Token   string
}

// AccountService implements the account lifecycle.
type AccountService struct {
	guard    Guard
	store    VerificationStore
	hasher   Hasher
	tokens   Tokens
	notifier Notifier
	revoker  Revoker
	opts     Options
	log      *zap.Logger
	now      func() time.Time
}

// NewAccountService wires an AccountService from its collaborators.
func NewAccountService(
	g Guard,
	store VerificationStore,
	hasher Hasher,
	tokens Tokens,
	notifier Notifier,
	revoker Revoker,
	opts Options,
	log *zap.Logger,
) *AccountService {
	return &AccountService{
		guard:    g,
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		notifier: notifier,
		revoker:  revoker,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Signup creates an account and returns it with a session token. When email
// verification is enabled a verification link is mailed; a failed delivery
// is logged and does not undo the signup.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	res, err := s.guard.CheckAndReserve(ctx, in.Username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if !res.Available {
		return nil, models.Errorf(models.ErrConflict, "Username already exists")
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	draft := &models.Account{
		Username:     in.Username,
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: digest,
		Verified:     !s.opts.EmailVerification,
	}
	if s.opts.EmailVerification {
		vt, err := s.tokens.IssueVerification(in.Username)
		if err != nil {
			return nil, fmt.Errorf("issue verification token: %w", err)
		}
		draft.VerificationToken = &vt
	}

	acc, err := s.guard.CommitCreate(ctx, draft)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.Errorf(models.ErrConflict, "Username already exists")
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	if s.opts.EmailVerification {
		s.sendVerification(ctx, acc)
	}

	tok, err := s.tokens.Issue(acc.ID, acc.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Account: acc, Token: tok}, nil
}

func (s *AccountService) sendVerification(ctx context.Context, acc *models.Account) {
	link := strings.TrimRight(s.opts.PublicBaseURL, "/") +
		"/api/verify-email?token=" + url.QueryEscape(*acc.VerificationToken)
	body := fmt.Sprintf("Hello %s,\n\nPlease verify your email address by opening the link below:\n\n%s\n", acc.Name, link)

	if err := s.notifier.Send(ctx, acc.Email, "Verify your email address", body); err != nil {
		s.log.Error("failed to send verification email",
			zap.String("username", acc.Username),
			zap.Error(err),
		)
	}
}

// Login checks credentials and returns a fresh session token. Unknown
// usernames and wrong passwords produce the same error.
func (s *AccountService) Login(ctx context.Context, username, password string) (*Session, error) {
	acc, err := s.guard.ResolveForAuth(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Errorf(models.ErrAuth, "Invalid username or password")
		}
		return nil, fmt.Errorf("resolve account: %w", err)
	}

	ok, err := s.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, models.Errorf(models.ErrAuth, "Invalid username or password")
	}

	if s.opts.EmailVerification && !acc.Verified {
		return nil, models.Errorf(models.ErrAuth, "Email address is not verified")
	}

	tok, err := s.tokens.Issue(acc.ID, acc.Username)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{Account: acc, Token: tok}, nil
}

// Logout revokes the presented token for the rest of its lifetime. A failed
// revocation is logged; the client-side session still ends.
func (s *AccountService) Logout(ctx context.Context, claims *token.Claims) error {
	s.revoke(ctx, claims)
	return nil
}

// Delete removes the authenticated account after re-checking its password.
func (s *AccountService) Delete(ctx context.Context, claims *token.Claims, password string) error {
	acc, err := s.guard.ResolveForAuth(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Errorf(models.ErrNotFound, "User not found")
		}
		return fmt.Errorf("resolve account: %w", err)
	}

	ok, err := s.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return models.Errorf(models.ErrAuth, "Invalid password")
	}

	if err := s.guard.CommitDelete(ctx, acc.Username); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Errorf(models.ErrNotFound, "User not found")
		}
		return fmt.Errorf("delete account: %w", err)
	}

	s.revoke(ctx, claims)
	return nil
}

// VerifyEmail confirms the email address named by a verification token.
// Verifying an already verified account succeeds without changes.
func (s *AccountService) VerifyEmail(ctx context.Context, raw string) (*models.Account, error) {
	claims, err := s.tokens.VerifyVerification(raw)
	if err != nil {
		return nil, models.Errorf(models.ErrAuth, "Invalid or expired verification token")
	}

	acc, err := s.store.FindByUsername(ctx, claims.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Errorf(models.ErrNotFound, "User not found")
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	if acc.Verified {
		return acc, nil
	}
	if acc.VerificationToken == nil || *acc.VerificationToken != raw {
		return nil, models.Errorf(models.ErrAuth, "Invalid or expired verification token")
	}

	if err := s.store.UpdateVerification(ctx, acc.ID, true, nil); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.Errorf(models.ErrNotFound, "User not found")
		}
		return nil, fmt.Errorf("update verification: %w", err)
	}

	acc.Verified = true
	acc.VerificationToken = nil
	s.guard.Refresh(ctx, acc)
	return acc, nil
}

func (s *AccountService) revoke(ctx context.Context, claims *token.Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	if err := s.revoker.Revoke(ctx, claims.ID, claims.Remaining(s.now())); err != nil {
		s.log.Warn("failed to revoke token", zap.String("username", claims.Username), zap.Error(err))
	}
}
