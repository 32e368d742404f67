package application

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func plainVerifier(hashed, password string) error {
	if hashed != password {
		return ErrInvalidCredentials
	}
	return nil
}

func TestAuthService_Authenticate(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("issues tokens for valid credentials", func(t *testing.T) {
		t.Parallel()

		creds := &credentialStoreStub{
			credentials: UserCredentials{
				User:         User{ID: "user-1", Email: "user@example.com"},
				PasswordHash: "secret",
			},
		}
		issuer := NewTokenIssuer(testSecret, time.Hour, clock)
		svc := NewAuthService(creds, issuer, newKVStub(), plainVerifier, func() string { return "token-1" }, clock)

		result, err := svc.Authenticate(context.Background(), AuthenticateParams{Email: " User@Example.com ", Password: "secret"})
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if creds.lastEmail != "user@example.com" {
			t.Fatalf("expected email to be normalized, got %q", creds.lastEmail)
		}
		if result.Token == "" {
			t.Fatalf("expected a signed token")
		}
		if !result.ExpiresAt.Equal(now.Add(time.Hour)) {
			t.Fatalf("expected expiry one hour from now, got %v", result.ExpiresAt)
		}

		claims, err := issuer.Parse(result.Token)
		if err != nil {
			t.Fatalf("issued token failed to parse: %v", err)
		}
		if claims.UserID != "user-1" || claims.ID != "token-1" {
			t.Fatalf("unexpected claims %+v", claims)
		}
	})

	t.Run("rejects invalid credentials with sentinel error", func(t *testing.T) {
		t.Parallel()

		creds := &credentialStoreStub{credentials: UserCredentials{User: User{ID: "user"}, PasswordHash: "expected"}}
		svc := NewAuthService(creds, NewTokenIssuer(testSecret, time.Hour, clock), nil, plainVerifier, nil, clock)

		_, err := svc.Authenticate(context.Background(), AuthenticateParams{Email: "user@example.com", Password: "wrong"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("unknown email is an invalid credential", func(t *testing.T) {
		t.Parallel()

		creds := &credentialStoreStub{err: ErrNotFound}
		svc := NewAuthService(creds, NewTokenIssuer(testSecret, time.Hour, clock), nil, plainVerifier, nil, clock)

		_, err := svc.Authenticate(context.Background(), AuthenticateParams{Email: "ghost@example.com", Password: "secret"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("empty fields are rejected before lookup", func(t *testing.T) {
		t.Parallel()

		creds := &credentialStoreStub{}
		svc := NewAuthService(creds, NewTokenIssuer(testSecret, time.Hour, clock), nil, plainVerifier, nil, clock)

		_, err := svc.Authenticate(context.Background(), AuthenticateParams{Email: "", Password: ""})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if creds.lastEmail != "" {
			t.Fatalf("expected no credential lookup")
		}
	})

	t.Run("store failures surface as repository errors", func(t *testing.T) {
		t.Parallel()

		creds := &credentialStoreStub{err: errors.New("db down")}
		svc := NewAuthService(creds, NewTokenIssuer(testSecret, time.Hour, clock), nil, plainVerifier, nil, clock)

		_, err := svc.Authenticate(context.Background(), AuthenticateParams{Email: "user@example.com", Password: "secret"})
		var rErr *RepositoryError
		if !errors.As(err, &rErr) {
			t.Fatalf("expected RepositoryError, got %v", err)
		}
	})
}

func TestAuthService_ValidateToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("returns principal for a valid token", func(t *testing.T) {
		t.Parallel()

		creds := &credentialStoreStub{credentials: UserCredentials{User: User{ID: "user-1", IsAdmin: true}}}
		issuer := NewTokenIssuer(testSecret, time.Hour, func() time.Time { return now })
		token, _, err := issuer.Issue(User{ID: "user-1"}, "tok-1")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		svc := NewAuthService(creds, issuer, newKVStub(), nil, nil, func() time.Time { return now })

		principal, err := svc.ValidateToken(context.Background(), token)
		if err != nil {
			t.Fatalf("ValidateToken failed: %v", err)
		}
		if principal.UserID != "user-1" || !principal.IsAdmin {
			t.Fatalf("expected admin principal from stored user, got %+v", principal)
		}
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		t.Parallel()

		current := now
		clock := func() time.Time { return current }
		issuer := NewTokenIssuer(testSecret, time.Hour, clock)
		token, _, err := issuer.Issue(User{ID: "user-1"}, "tok-1")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		current = now.Add(2 * time.Hour)

		svc := NewAuthService(&credentialStoreStub{credentials: UserCredentials{User: User{ID: "user-1"}}}, issuer, nil, nil, nil, clock)
		if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
	})

	t.Run("rejects tokens signed with another secret", func(t *testing.T) {
		t.Parallel()

		clock := func() time.Time { return now }
		forged, _, err := NewTokenIssuer([]byte("another-secret-another-secret-xx"), time.Hour, clock).Issue(User{ID: "user-1"}, "tok-1")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		svc := NewAuthService(&credentialStoreStub{credentials: UserCredentials{User: User{ID: "user-1"}}}, NewTokenIssuer(testSecret, time.Hour, clock), nil, nil, nil, clock)
		if _, err := svc.ValidateToken(context.Background(), forged); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rejects empty and malformed tokens", func(t *testing.T) {
		t.Parallel()

		clock := func() time.Time { return now }
		svc := NewAuthService(&credentialStoreStub{}, NewTokenIssuer(testSecret, time.Hour, clock), nil, nil, nil, clock)
		for _, token := range []string{"", "   ", "not-a-jwt"} {
			if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized for %q, got %v", token, err)
			}
		}
	})

	t.Run("rejects tokens whose user no longer exists", func(t *testing.T) {
		t.Parallel()

		clock := func() time.Time { return now }
		issuer := NewTokenIssuer(testSecret, time.Hour, clock)
		token, _, _ := issuer.Issue(User{ID: "user-1"}, "tok-1")
		svc := NewAuthService(&credentialStoreStub{err: ErrNotFound}, issuer, nil, nil, nil, clock)
		if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestAuthService_RevokeToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("revoked tokens no longer validate", func(t *testing.T) {
		t.Parallel()

		creds := &credentialStoreStub{credentials: UserCredentials{User: User{ID: "user-1"}}}
		issuer := NewTokenIssuer(testSecret, time.Hour, clock)
		store := newKVStub()
		svc := NewAuthService(creds, issuer, store, nil, nil, clock)

		token, _, _ := issuer.Issue(User{ID: "user-1"}, "tok-1")
		if err := svc.RevokeToken(context.Background(), token); err != nil {
			t.Fatalf("RevokeToken failed: %v", err)
		}
		if ttl := store.ttls["revoked:tok-1"]; ttl != time.Hour {
			t.Fatalf("expected revocation to last until expiry, got %v", ttl)
		}
		if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrSessionRevoked) {
			t.Fatalf("expected ErrSessionRevoked, got %v", err)
		}
	})

	t.Run("empty token is rejected", func(t *testing.T) {
		t.Parallel()

		svc := NewAuthService(&credentialStoreStub{}, NewTokenIssuer(testSecret, time.Hour, clock), newKVStub(), nil, nil, clock)
		if err := svc.RevokeToken(context.Background(), " "); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("store failures are reported", func(t *testing.T) {
		t.Parallel()

		issuer := NewTokenIssuer(testSecret, time.Hour, clock)
		store := newKVStub()
		store.setErr = errors.New("redis down")
		svc := NewAuthService(&credentialStoreStub{}, issuer, store, nil, nil, clock)

		token, _, _ := issuer.Issue(User{ID: "user-1"}, "tok-1")
		var rErr *RepositoryError
		if err := svc.RevokeToken(context.Background(), token); !errors.As(err, &rErr) {
			t.Fatalf("expected RepositoryError, got %v", err)
		}
	})
}

// credentialStoreStub implements CredentialStore for tests.
type credentialStoreStub struct {
	mu          sync.Mutex
	credentials UserCredentials
	err         error
	lastEmail   string
	updatedHash map[string]string
}

func (c *credentialStoreStub) GetUserCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEmail = email
	if c.err != nil {
		return UserCredentials{}, c.err
	}
	return c.credentials, nil
}

func (c *credentialStoreStub) GetUser(ctx context.Context, id string) (User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return User{}, c.err
	}
	if c.credentials.User.ID != id {
		return User{}, ErrNotFound
	}
	return c.credentials.User, nil
}

func (c *credentialStoreStub) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updatedHash == nil {
		c.updatedHash = make(map[string]string)
	}
	c.updatedHash[userID] = passwordHash
	return nil
}

// kvStub is an in-memory KeyValueStore that records TTLs without expiring.
type kvStub struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	setErr error
}

func newKVStub() *kvStub {
	return &kvStub{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (k *kvStub) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.setErr != nil {
		return k.setErr
	}
	k.values[key] = value
	k.ttls[key] = ttl
	return nil
}

func (k *kvStub) Get(ctx context.Context, key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	value, ok := k.values[key]
	return value, ok, nil
}

func (k *kvStub) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.setErr != nil {
		return 0, k.setErr
	}
	count, _ := strconv.ParseInt(k.values[key], 10, 64)
	count++
	k.values[key] = strconv.FormatInt(count, 10)
	if _, ok := k.ttls[key]; !ok {
		k.ttls[key] = ttl
	}
	return count, nil
}

func (k *kvStub) Delete(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.values, key)
	delete(k.ttls, key)
	return nil
}
