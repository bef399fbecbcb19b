package keys

import (
	"crypto/rsa"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	testKeysOnce sync.Once
	testKeys     []*rsa.PrivateKey
)

func testKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	testKeysOnce.Do(func() {
		for n := 0; n < 3; n++ {
			k, err := GenerateRSA(2048)
			if err != nil {
				panic(err)
			}
			testKeys = append(testKeys, k)
		}
	})
	return testKeys[i]
}

func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func TestDeriveIdentifierIsStable(t *testing.T) {
	k := testKey(t, 0)

	first, err := DeriveIdentifier(&k.PublicKey)
	require.NoError(t, err)
	second, err := DeriveIdentifier(&k.PublicKey)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 32)

	other, err := DeriveIdentifier(&testKey(t, 1).PublicKey)
	require.NoError(t, err)
	require.NotEqual(t, first, other)

	_, err = DeriveIdentifier(nil)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestSeedIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	k := testKey(t, 0)

	first, err := reg.Seed(PurposeAccess, k, &k.PublicKey)
	require.NoError(t, err)
	second, err := reg.Seed(PurposeAccess, k, &k.PublicKey)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Len(t, reg.ListAll(), 1)
}

func TestSeedUpgradesVerificationOnlyEntry(t *testing.T) {
	reg := NewRegistry()
	k := testKey(t, 0)

	_, err := reg.Seed(PurposeRefresh, nil, &k.PublicKey)
	require.NoError(t, err)
	entry, err := reg.Seed(PurposeRefresh, k, nil)
	require.NoError(t, err)
	require.True(t, entry.CanSign())
}

func TestSeedRejectsPurposeClash(t *testing.T) {
	reg := NewRegistry()
	k := testKey(t, 0)
	_, err := reg.Seed(PurposeAccess, k, nil)
	require.NoError(t, err)
	_, err = reg.Seed(PurposeRefresh, k, nil)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestAddRejectsDuplicatesAndMismatchedPairs(t *testing.T) {
	reg := NewRegistry()
	k0, k1 := testKey(t, 0), testKey(t, 1)

	_, err := reg.Add(PurposeAccess, k0, nil)
	require.NoError(t, err)
	_, err = reg.Add(PurposeAccess, nil, &k0.PublicKey)
	require.ErrorIs(t, err, ErrDuplicateKey)

	_, err = reg.Add(PurposeAccess, k0, &k1.PublicKey)
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = reg.Add(Purpose("bogus"), k1, nil)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestSignerPrefersNewestActiveKey(t *testing.T) {
	reg := NewRegistry(WithClock(steppingClock(time.Unix(1_700_000_000, 0))))
	k0, k1, k2 := testKey(t, 0), testKey(t, 1), testKey(t, 2)

	old, err := reg.Add(PurposeAccess, k0, nil)
	require.NoError(t, err)
	newer, err := reg.Add(PurposeAccess, k1, nil)
	require.NoError(t, err)
	_, err = reg.Add(PurposeAccess, nil, &k2.PublicKey)
	require.NoError(t, err)

	signer, err := reg.Signer(PurposeAccess)
	require.NoError(t, err)
	require.Equal(t, newer.ID, signer.ID)

	_, err = reg.SetActive(newer.ID, false)
	require.NoError(t, err)
	signer, err = reg.Signer(PurposeAccess)
	require.NoError(t, err)
	require.Equal(t, old.ID, signer.ID)

	_, err = reg.Signer(PurposeRefresh)
	require.ErrorIs(t, err, ErrNoSigningKey)
}

func TestSoleActive(t *testing.T) {
	reg := NewRegistry()
	k0, k1 := testKey(t, 0), testKey(t, 1)

	_, ok := reg.SoleActive(PurposeAccess)
	require.False(t, ok)

	first, err := reg.Add(PurposeAccess, k0, nil)
	require.NoError(t, err)
	got, ok := reg.SoleActive(PurposeAccess)
	require.True(t, ok)
	require.Equal(t, first.ID, got.ID)

	_, err = reg.Add(PurposeAccess, k1, nil)
	require.NoError(t, err)
	_, ok = reg.SoleActive(PurposeAccess)
	require.False(t, ok)
}

func TestDeactivateKeepsLastSigner(t *testing.T) {
	reg := NewRegistry(WithClock(steppingClock(time.Unix(1_700_000_000, 0))))
	k0, k1, k2 := testKey(t, 0), testKey(t, 1), testKey(t, 2)
	first, err := reg.Add(PurposeAccess, k0, nil)
	require.NoError(t, err)
	second, err := reg.Add(PurposeAccess, k1, nil)
	require.NoError(t, err)
	verifyOnly, err := reg.Add(PurposeAccess, nil, &k2.PublicKey)
	require.NoError(t, err)

	_, err = reg.Deactivate(second.ID)
	require.NoError(t, err)
	_, err = reg.Deactivate(first.ID)
	require.ErrorIs(t, err, ErrLastSigner)

	// verification-only keys never count as signers
	_, err = reg.Deactivate(verifyOnly.ID)
	require.NoError(t, err)
	_, err = reg.Deactivate("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	signer, err := reg.Signer(PurposeAccess)
	require.NoError(t, err)
	require.Equal(t, first.ID, signer.ID)
}

func TestConcurrentDeactivateLeavesOneSigner(t *testing.T) {
	for i := 0; i < 50; i++ {
		reg := NewRegistry(WithClock(steppingClock(time.Unix(1_700_000_000, 0))))
		a, err := reg.Add(PurposeAccess, testKey(t, 0), nil)
		require.NoError(t, err)
		b, err := reg.Add(PurposeAccess, testKey(t, 1), nil)
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for n, id := range []string{a.ID, b.ID} {
			wg.Add(1)
			go func(n int, id string) {
				defer wg.Done()
				<-start
				_, errs[n] = reg.Deactivate(id)
			}(n, id)
		}
		close(start)
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err != nil {
				require.ErrorIs(t, err, ErrLastSigner)
				failed++
			}
		}
		require.Equal(t, 1, failed)
		_, err = reg.Signer(PurposeAccess)
		require.NoError(t, err)
	}
}

func TestDeactivatedKeyLeavesJWKSButStaysRegistered(t *testing.T) {
	reg := NewRegistry()
	k0, k1 := testKey(t, 0), testKey(t, 1)
	access, err := reg.Seed(PurposeAccess, k0, nil)
	require.NoError(t, err)
	refresh, err := reg.Seed(PurposeRefresh, k1, nil)
	require.NoError(t, err)

	require.Len(t, reg.JWKS().Keys, 2)

	_, err = reg.SetActive(access.ID, false)
	require.NoError(t, err)

	set := reg.JWKS()
	require.Len(t, set.Keys, 1)
	require.Equal(t, refresh.ID, set.Keys[0].Kid)

	entry, ok := reg.Get(access.ID)
	require.True(t, ok)
	require.False(t, entry.Active)

	_, err = reg.SetActive("missing", true)
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestJWKSNeverCarriesPrivateMaterial(t *testing.T) {
	reg := NewRegistry()
	k := testKey(t, 0)
	_, err := reg.Seed(PurposeAccess, k, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(reg.JWKS())
	require.NoError(t, err)

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Len(t, doc.Keys, 1)
	for _, field := range []string{"d", "p", "q", "dp", "dq", "qi"} {
		require.NotContains(t, doc.Keys[0], field)
	}
	require.Equal(t, "RSA", doc.Keys[0]["kty"])
	require.Equal(t, "RS256", doc.Keys[0]["alg"])
	require.Equal(t, "sig", doc.Keys[0]["use"])
	require.Equal(t, "AQAB", doc.Keys[0]["e"])
}

func TestLoadPEMFilesRoundTrip(t *testing.T) {
	k := testKey(t, 0)
	privPEM, err := EncodePrivateKeyPEM(k)
	require.NoError(t, err)
	pubPEM, err := EncodePublicKeyPEM(&k.PublicKey)
	require.NoError(t, err)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "access.key")
	pubPath := filepath.Join(dir, "access.pub")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0o600))
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0o644))

	priv, pub, err := LoadPEMFiles(privPath, pubPath)
	require.NoError(t, err)
	require.True(t, priv.Equal(k))
	require.True(t, pub.Equal(&k.PublicKey))

	_, pub, err = LoadPEMFiles(privPath, "")
	require.NoError(t, err)
	require.True(t, pub.Equal(&k.PublicKey))

	_, _, err = LoadPEMFiles(filepath.Join(dir, "missing.key"), "")
	require.Error(t, err)

	_, err = ParsePrivateKeyPEM([]byte("not pem"))
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParsePublicKeyPEM(privPEM)
	require.ErrorIs(t, err, ErrInvalidKey)
}
