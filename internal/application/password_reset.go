package application

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"
)

const (
	resetCodePrefix     = "password-reset:"
	resetAttemptsPrefix = "password-reset-attempts:"
	defaultResetCodeTTL = 15 * time.Minute
	// maxResetAttempts wrong codes burn the outstanding code.
	maxResetAttempts = 5
	resetCodeDigits     = 6
	minPasswordLength   = 8
)

// ResetCodeSender delivers a password reset code to its owner.
type ResetCodeSender interface {
	PasswordResetRequested(ctx context.Context, user User, code string, expiresAt time.Time) error
}

// PasswordResetService issues one time codes and swaps passwords when a
// valid code is presented.
type PasswordResetService struct {
	credentials   CredentialStore
	codes         KeyValueStore
	sender        ResetCodeSender
	codeGenerator func() string
	hash          func(password string) (string, error)
	now           func() time.Time
	ttl           time.Duration
	logger        *slog.Logger
}

// NewPasswordResetService wires the reset flow. A nil codeGenerator draws
// six random digits.
func NewPasswordResetService(credentials CredentialStore, codes KeyValueStore, sender ResetCodeSender, codeGenerator func() string, now func() time.Time, ttl time.Duration, logger *slog.Logger) *PasswordResetService {
	if codeGenerator == nil {
		codeGenerator = randomDigits
	}
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = defaultResetCodeTTL
	}
	return &PasswordResetService{
		credentials:   credentials,
		codes:         codes,
		sender:        sender,
		codeGenerator: codeGenerator,
		hash:          HashPassword,
		now:           now,
		ttl:           ttl,
		logger:        defaultLogger(logger),
	}
}

func (s *PasswordResetService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "PasswordResetService", operation, attrs...)
}

// RequestReset stores a fresh code for email and hands it to the sender.
// Unknown addresses succeed silently so callers cannot discover which accounts exist.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (err error) {
	if s == nil {
		return fmt.Errorf("PasswordResetService is nil")
	}
	if s.credentials == nil || s.codes == nil {
		return fmt.Errorf("password reset not configured")
	}

	normalized := normalizeEmail(email)
	logger := s.loggerWith(ctx, "RequestReset", "email", normalized)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "password reset request failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	if normalized == "" {
		return newValidationError("email", "email is required")
	}

	creds, lookupErr := s.credentials.GetUserCredentialsByEmail(ctx, normalized)
	if lookupErr != nil {
		if isNotFound(lookupErr) {
			logger.InfoContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return &RepositoryError{Op: "get credentials", Err: lookupErr}
	}

	code := s.codeGenerator()
	expiresAt := s.now().Add(s.ttl)
	if setErr := s.codes.Set(ctx, resetCodePrefix+normalized, code, s.ttl); setErr != nil {
		return &RepositoryError{Op: "store reset code", Err: setErr}
	}
	if delErr := s.codes.Delete(ctx, resetAttemptsPrefix+normalized); delErr != nil {
		logger.WarnContext(ctx, "failed to clear reset attempts", "error", delErr)
	}

	if s.sender != nil {
		if sendErr := s.sender.PasswordResetRequested(ctx, creds.User, code, expiresAt); sendErr != nil {
			return fmt.Errorf("deliver reset code: %w", sendErr)
		}
	}
	logger.With("user_id", creds.User.ID).InfoContext(ctx, "password reset code issued")
	return nil
}

// ConfirmReset replaces the password when code matches the stored one. A
// code is consumed by its first successful use, or by maxResetAttempts
// wrong guesses.
func (s *PasswordResetService) ConfirmReset(ctx context.Context, params ConfirmPasswordResetParams) (err error) {
	if s == nil {
		return fmt.Errorf("PasswordResetService is nil")
	}
	if s.credentials == nil || s.codes == nil {
		return fmt.Errorf("password reset not configured")
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "ConfirmReset", "email", email)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "password reset failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password reset completed")
	}()

	vErr := &ValidationError{}
	if email == "" {
		vErr.add("email", "email is required")
	}
	if strings.TrimSpace(params.Code) == "" {
		vErr.add("code", "code is required")
	}
	validatePassword(params.NewPassword, vErr)
	if vErr.HasErrors() {
		return vErr
	}

	key := resetCodePrefix + email
	stored, ok, getErr := s.codes.Get(ctx, key)
	if getErr != nil {
		return &RepositoryError{Op: "load reset code", Err: getErr}
	}
	if !ok {
		return ErrInvalidResetCode
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(params.Code))) != 1 {
		return s.recordFailedAttempt(ctx, logger, email)
	}

	creds, lookupErr := s.credentials.GetUserCredentialsByEmail(ctx, email)
	if lookupErr != nil {
		if isNotFound(lookupErr) {
			return ErrInvalidResetCode
		}
		return &RepositoryError{Op: "get credentials", Err: lookupErr}
	}

	hashed, hashErr := s.hash(params.NewPassword)
	if hashErr != nil {
		return hashErr
	}
	if updateErr := s.credentials.UpdatePasswordHash(ctx, creds.User.ID, hashed); updateErr != nil {
		return mapUserRepoError("update password", updateErr)
	}
	s.discardCode(ctx, logger, email)
	return nil
}

// recordFailedAttempt counts a wrong code and burns the outstanding code once
// maxResetAttempts have failed. It always reports ErrInvalidResetCode unless
// the counter itself cannot be written.
func (s *PasswordResetService) recordFailedAttempt(ctx context.Context, logger *slog.Logger, email string) error {
	attempts, err := s.codes.Increment(ctx, resetAttemptsPrefix+email, s.ttl)
	if err != nil {
		return &RepositoryError{Op: "count reset attempts", Err: err}
	}
	if attempts >= maxResetAttempts {
		logger.WarnContext(ctx, "reset code discarded after repeated failures", "attempts", attempts)
		s.discardCode(ctx, logger, email)
	}
	return ErrInvalidResetCode
}

func (s *PasswordResetService) discardCode(ctx context.Context, logger *slog.Logger, email string) {
	for _, key := range []string{resetCodePrefix + email, resetAttemptsPrefix + email} {
		if err := s.codes.Delete(ctx, key); err != nil {
			logger.WarnContext(ctx, "failed to discard reset state", "key", key, "error", err)
		}
	}
}

func validatePassword(password string, vErr *ValidationError) {
	if len(password) < minPasswordLength {
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
}

func randomDigits() string {
	limit := big.NewInt(10)
	var b strings.Builder
	for i := 0; i < resetCodeDigits; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String()
}
