package auth_test

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"shopfront.io/internal/audit"
	"shopfront.io/internal/auth"
	"shopfront.io/internal/keys"
	"shopfront.io/internal/lock"
	"shopfront.io/internal/store/memory"
	"shopfront.io/internal/token"
)

var (
	keyOnce sync.Once
	keyPool []*rsa.PrivateKey
)

func testKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for n := 0; n < 3; n++ {
			k, err := keys.GenerateRSA(2048)
			if err != nil {
				panic(err)
			}
			keyPool = append(keyPool, k)
		}
	})
	return keyPool[i]
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Record(_ context.Context, e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *auditLog) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type env struct {
	store    *memory.Store
	registry *keys.Registry
	tokens   *token.Service
	svc      *auth.Service
	catalog  *auth.Catalog
	audit    *auditLog
}

var fastArgon = auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func newEnv(t *testing.T, opts ...auth.ServiceOption) *env {
	t.Helper()
	e := &env{store: memory.New(), registry: keys.NewRegistry(), audit: &auditLog{}}
	_, err := e.registry.Seed(keys.PurposeAccess, testKey(t, 0), nil)
	require.NoError(t, err)
	_, err = e.registry.Seed(keys.PurposeRefresh, testKey(t, 1), nil)
	require.NoError(t, err)

	e.tokens, err = token.NewService(e.registry)
	require.NoError(t, err)

	base := []auth.ServiceOption{
		auth.WithBcryptCost(4),
		auth.WithRefreshHashParams(fastArgon),
		auth.WithAuditor(e.audit),
		auth.WithLocker(lock.Nop{}),
	}
	e.svc, err = auth.NewService(e.store, e.tokens, append(base, opts...)...)
	require.NoError(t, err)

	e.catalog, err = auth.NewCatalog(e.store, e.registry, auth.WithCatalogAuditor(e.audit))
	require.NoError(t, err)
	require.NoError(t, e.catalog.EnsureBuiltins(context.Background()))
	return e
}

func (e *env) register(t *testing.T, email, password string) auth.User {
	t.Helper()
	u, err := e.svc.Register(context.Background(), auth.RegisterInput{Name: "Test", Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func (e *env) sessions(t *testing.T, userID string) auth.Sessions {
	t.Helper()
	u, err := e.store.UserByID(context.Background(), userID)
	require.NoError(t, err)
	return u.Sessions
}
