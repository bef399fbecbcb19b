package httpapi

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"shopfront.io/internal/auth"
	"shopfront.io/internal/keys"
	"shopfront.io/internal/lock"
	"shopfront.io/internal/store/memory"
	"shopfront.io/internal/token"
)

const (
	adminEmail    = "root@example.com"
	adminPassword = "root-password-1"
)

var (
	keyOnce sync.Once
	keyPool []*rsa.PrivateKey
)

func testKeys(t *testing.T) []*rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		for n := 0; n < 2; n++ {
			k, err := keys.GenerateRSA(2048)
			if err != nil {
				panic(err)
			}
			keyPool = append(keyPool, k)
		}
	})
	return keyPool
}

type apiClient struct {
	t        *testing.T
	baseURL  string
	client   *http.Client
	store    *memory.Store
	registry *keys.Registry
	svc      *auth.Service
	catalog  *auth.Catalog
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	return newTestAPIWith(t)
}

// newTestAPIWith applies extra service options after the defaults.
func newTestAPIWith(t *testing.T, extra ...auth.ServiceOption) *apiClient {
	t.Helper()
	pool := testKeys(t)
	store := memory.New()
	registry := keys.NewRegistry()
	_, err := registry.Seed(keys.PurposeAccess, pool[0], nil)
	require.NoError(t, err)
	_, err = registry.Seed(keys.PurposeRefresh, pool[1], nil)
	require.NoError(t, err)

	tokens, err := token.NewService(registry)
	require.NoError(t, err)
	opts := append([]auth.ServiceOption{
		auth.WithBcryptCost(4),
		auth.WithRefreshHashParams(auth.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}),
		auth.WithLocker(lock.NewLocal()),
	}, extra...)
	svc, err := auth.NewService(store, tokens, opts...)
	require.NoError(t, err)
	catalog, err := auth.NewCatalog(store, registry)
	require.NoError(t, err)
	require.NoError(t, catalog.EnsureBuiltins(context.Background()))
	_, _, err = catalog.BootstrapAdmin(context.Background(), adminEmail, adminPassword, 4)
	require.NoError(t, err)

	api, err := New(Deps{Auth: svc, Catalog: catalog, Registry: registry, Ready: ReadyFunc(store.Ping)},
		Options{Version: "test", LoginRatePerSec: 1000, LoginBurst: 1000})
	require.NoError(t, err)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		t:        t,
		baseURL:  srv.URL,
		client:   srv.Client(),
		store:    store,
		registry: registry,
		svc:      svc,
		catalog:  catalog,
	}
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	cookies []*http.Cookie
	headers map[string]string
}

func (c *apiClient) do(in call) *http.Response {
	c.t.Helper()
	var payload io.Reader
	switch b := in.body.(type) {
	case nil:
	case string:
		payload = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(c.t, err)
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(in.method, c.baseURL+in.path, payload)
	require.NoError(c.t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if in.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+in.bearer)
	}
	for _, ck := range in.cookies {
		req.AddCookie(ck)
	}
	for k, v := range in.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

type session struct {
	access  string
	refresh *http.Cookie
	cookies []*http.Cookie
}

func (c *apiClient) register(email, password string) string {
	c.t.Helper()
	resp := c.do(call{method: http.MethodPost, path: "/auth/register", body: map[string]string{
		"name": "Test User", "email": email, "password": password,
	}})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode)
	body := decode[map[string]any](c.t, resp)
	return body["id"].(string)
}

func (c *apiClient) login(email, password string) session {
	c.t.Helper()
	resp := c.do(call{method: http.MethodPost, path: "/auth/login", body: map[string]string{
		"email": email, "password": password,
	}})
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	body := decode[tokenResponse](c.t, resp)
	s := session{access: body.AccessToken, cookies: resp.Cookies()}
	s.refresh = cookieNamed(s.cookies, "refresh_token")
	require.NotNil(c.t, s.refresh)
	return s
}

func (c *apiClient) refresh(ck *http.Cookie) *http.Response {
	c.t.Helper()
	return c.do(call{
		method:  http.MethodPost,
		path:    "/auth/refresh",
		cookies: []*http.Cookie{{Name: ck.Name, Value: ck.Value}},
		headers: map[string]string{refreshHeader: "1"},
	})
}

func cookieNamed(cookies []*http.Cookie, name string) *http.Cookie {
	for _, ck := range cookies {
		if ck.Name == name {
			return ck
		}
	}
	return nil
}
