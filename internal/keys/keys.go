package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// AlgRS256 is the only signature algorithm the registry hands out.
	AlgRS256 = "RS256"

	UseSignature  = "sig"
	UseEncryption = "enc"

	kidBytes = 16
)

// Purpose names the signing context a key belongs to.
type Purpose string

const (
	PurposeAccess  Purpose = "access"
	PurposeRefresh Purpose = "refresh"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p == PurposeAccess || p == PurposeRefresh
}

var (
	ErrKeyNotFound  = errors.New("keys: key not found")
	ErrDuplicateKey = errors.New("keys: key already registered")
	ErrNoSigningKey = errors.New("keys: no active signing key")
	ErrInvalidKey   = errors.New("keys: invalid key material")
	ErrLastSigner   = errors.New("keys: last active signing key")
)

// kidDomainKey separates key identifiers from any other BLAKE3 use of the
// same bytes. ASCII "shopfront.keys.kid", zero padded to 32 bytes.
var kidDomainKey = [32]byte{
	's', 'h', 'o', 'p', 'f', 'r', 'o', 'n', 't', '.', 'k', 'e', 'y', 's', '.', 'k',
	'i', 'd', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Entry is one registered key.
type Entry struct {
	ID         string
	Use        string
	Purpose    Purpose
	Algorithm  string
	PublicKey  *rsa.PublicKey
	PrivateKey *rsa.PrivateKey
	Active     bool
	CreatedAt  time.Time
}

// CanSign reports whether the entry carries private key material.
func (e Entry) CanSign() bool {
	return e.PrivateKey != nil
}

// DeriveIdentifier returns the kid for pub: the BLAKE3 keyed hash of its
// PKIX DER encoding, truncated to 16 bytes and hex encoded.
func DeriveIdentifier(pub *rsa.PublicKey) (string, error) {
	if pub == nil || pub.N == nil {
		return "", fmt.Errorf("%w: public key is required", ErrInvalidKey)
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	hasher, err := blake3.NewKeyed(kidDomainKey[:])
	if err != nil {
		return "", err
	}
	_, _ = hasher.Write(der)
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:kidBytes]), nil
}
