package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/assistant-calendar/internal/persistence"
)

// CredentialStore exposes user credential operations required by the auth services.
type CredentialStore interface {
	GetUserCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error)
	GetUser(ctx context.Context, id string) (User, error)
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}

// KeyValueStore holds short lived string values such as revoked token ids
// and password reset codes. Get reports false for missing or expired keys.
type KeyValueStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	// Increment atomically adds one to a counter that expires ttl after it
	// was first incremented, and returns the new count.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// PasswordVerifier compares a stored hash with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// RevokedTokenKeyPrefix prefixes the key of every revoked token id.
const RevokedTokenKeyPrefix = "revoked:"

// AuthService coordinates login, token validation and logout.
type AuthService struct {
	credentials    CredentialStore
	tokens         *TokenIssuer
	revoked        KeyValueStore
	verifyPassword PasswordVerifier
	tokenIDs       func() string
	now            func() time.Time
	logger         *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(credentials CredentialStore, tokens *TokenIssuer, revoked KeyValueStore, verify PasswordVerifier, tokenIDs func() string, now func() time.Time) *AuthService {
	return NewAuthServiceWithLogger(credentials, tokens, revoked, verify, tokenIDs, now, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(credentials CredentialStore, tokens *TokenIssuer, revoked KeyValueStore, verify PasswordVerifier, tokenIDs func() string, now func() time.Time, logger *slog.Logger) *AuthService {
	if verify == nil {
		verify = VerifyPassword
	}
	if tokenIDs == nil {
		tokenIDs = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		credentials:    credentials,
		tokens:         tokens,
		revoked:        revoked,
		verifyPassword: verify,
		tokenIDs:       tokenIDs,
		now:            now,
		logger:         defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Authenticate validates credentials and issues a signed access token.
func (s *AuthService) Authenticate(ctx context.Context, params AuthenticateParams) (result AuthenticateResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.credentials == nil || s.tokens == nil {
		err = fmt.Errorf("auth service not configured")
		return
	}

	email := normalizeEmail(params.Email)
	password := params.Password

	logger := s.loggerWith(ctx, "Authenticate", "email", email)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "authentication succeeded")
	}()

	if email == "" || password == "" {
		err = ErrInvalidCredentials
		return
	}

	creds, lookupErr := s.credentials.GetUserCredentialsByEmail(ctx, email)
	if lookupErr != nil {
		if isNotFound(lookupErr) {
			err = ErrInvalidCredentials
			return
		}
		err = &RepositoryError{Op: "get credentials", Err: lookupErr}
		return
	}

	if verifyErr := s.verifyPassword(creds.PasswordHash, password); verifyErr != nil {
		err = ErrInvalidCredentials
		return
	}

	token, claims, issueErr := s.tokens.Issue(creds.User, s.tokenIDs())
	if issueErr != nil {
		err = issueErr
		return
	}

	result = AuthenticateResult{User: creds.User, Token: token, ExpiresAt: claims.ExpiresAt.Time}
	return
}

// ValidateToken verifies that token is signed, unexpired and not revoked, and
// returns the principal of its user.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (principal Principal, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.credentials == nil || s.tokens == nil {
		err = fmt.Errorf("auth service not configured")
		return
	}

	trimmed := strings.TrimSpace(token)
	logger := s.loggerWith(ctx, "ValidateToken", "token_provided", trimmed != "")
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "token validation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("principal_id", principal.UserID).DebugContext(ctx, "token validated")
	}()

	if trimmed == "" {
		err = ErrUnauthorized
		return
	}

	claims, parseErr := s.tokens.Parse(trimmed)
	if parseErr != nil {
		err = parseErr
		return
	}

	if s.revoked != nil && claims.ID != "" {
		_, revoked, lookupErr := s.revoked.Get(ctx, RevokedTokenKeyPrefix+claims.ID)
		if lookupErr != nil {
			err = &RepositoryError{Op: "check revocation", Err: lookupErr}
			return
		}
		if revoked {
			err = ErrSessionRevoked
			return
		}
	}

	user, userErr := s.credentials.GetUser(ctx, claims.UserID)
	if userErr != nil {
		if isNotFound(userErr) {
			err = ErrUnauthorized
			return
		}
		err = &RepositoryError{Op: "get user", Err: userErr}
		return
	}

	principal = Principal{UserID: user.ID, IsAdmin: user.IsAdmin}
	return
}

// RevokeToken records token as logged out until it would have expired.
func (s *AuthService) RevokeToken(ctx context.Context, token string) error {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if s.tokens == nil {
		return fmt.Errorf("auth service not configured")
	}

	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ErrInvalidCredentials
	}
	logger := s.loggerWith(ctx, "RevokeToken")

	claims, err := s.tokens.Parse(trimmed)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			logger.InfoContext(ctx, "token already expired")
			return nil
		}
		logger.WarnContext(ctx, "failed to revoke token", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	if s.revoked == nil || claims.ID == "" {
		logger.InfoContext(ctx, "token revocation store not configured")
		return nil
	}

	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revoked.Set(ctx, RevokedTokenKeyPrefix+claims.ID, claims.UserID, ttl); err != nil {
		logger.ErrorContext(ctx, "failed to revoke token", "error", err)
		return &RepositoryError{Op: "revoke token", Err: err}
	}
	logger.With("user_id", claims.UserID).InfoContext(ctx, "token revoked")
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, persistence.ErrNotFound)
}
