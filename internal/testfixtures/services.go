package testfixtures

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/assistant-calendar/internal/adapters"
	"github.com/example/assistant-calendar/internal/application"
	"github.com/example/assistant-calendar/internal/cache"
)

// TokenSecret is a signing key long enough for the configuration policy.
const TokenSecret = "0123456789abcdef0123456789abcdef"

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// NewMeetingService builds a meeting service, filling the identifier
// generator and clock from the factory when deps leaves them unset.
func (f *ServiceFactory) NewMeetingService(deps application.MeetingServiceDeps) *application.MeetingService {
	if deps.IDGenerator == nil {
		deps.IDGenerator = f.IDGenerator.NextFunc()
	}
	if deps.Now == nil {
		deps.Now = f.Clock.NowFunc()
	}
	if deps.Logger == nil {
		deps.Logger = DiscardLogger()
	}
	return application.NewMeetingService(deps)
}

// NewUserService builds a user service over users.
func (f *ServiceFactory) NewUserService(users application.UserRepository) *application.UserService {
	return application.NewUserService(users, f.IDGenerator.NextFunc(), f.Clock.NowFunc())
}

// AuthServiceDeps captures dependencies for constructing an auth service.
type AuthServiceDeps struct {
	Credentials    application.CredentialStore
	Revoked        application.KeyValueStore
	PasswordVerify application.PasswordVerifier
	TokenTTL       time.Duration
	Logger         *slog.Logger
}

// NewAuthService builds an auth service signing tokens with TokenSecret.
func (f *ServiceFactory) NewAuthService(deps AuthServiceDeps) *application.AuthService {
	ttl := deps.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = DiscardLogger()
	}
	tokens := application.NewTokenIssuer([]byte(TokenSecret), ttl, f.Clock.NowFunc())
	return application.NewAuthServiceWithLogger(
		deps.Credentials,
		tokens,
		deps.Revoked,
		deps.PasswordVerify,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		logger,
	)
}

// Stack is a fully wired set of services over one storage backend.
type Stack struct {
	Storage  *StorageHarness
	Factory  *ServiceFactory
	Meetings *application.MeetingService
	Users    *application.UserService
	Auth     *application.AuthService
	Tokens   *cache.MemoryStore
}

// NewStack wires the application services over harness with in-memory
// token revocation, whose entries are never evicted, and no notifier.
func NewStack(tb testing.TB, harness *StorageHarness, opts ...ServiceFactoryOption) *Stack {
	tb.Helper()
	factory := NewServiceFactory(opts...)
	directory := adapters.NewParticipantDirectory(harness.Users)
	tokens := cache.NewMemoryStore(0, factory.Clock.NowFunc(), cache.WithPinnedPrefixes(application.RevokedTokenKeyPrefix))

	return &Stack{
		Storage: harness,
		Factory: factory,
		Meetings: factory.NewMeetingService(application.MeetingServiceDeps{
			Meetings: adapters.NewMeetingRepository(harness.Meetings),
			Users:    directory,
		}),
		Users: factory.NewUserService(adapters.NewUserRepository(harness.Users)),
		Auth: factory.NewAuthService(AuthServiceDeps{
			Credentials: adapters.NewCredentialStore(harness.Users, factory.Clock.NowFunc()),
			Revoked:     tokens,
		}),
		Tokens: tokens,
	}
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
