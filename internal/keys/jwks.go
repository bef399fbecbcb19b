package keys

import (
	"encoding/base64"
	"math/big"
)

// JWK is the public half of an RSA key in RFC 7517 form.
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the document served at /.well-known/jwks.json.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWKS renders the active keys. Private material is never included.
func (r *Registry) JWKS() JWKSet {
	active := r.ListActive()
	set := JWKSet{Keys: make([]JWK, 0, len(active))}
	for _, e := range active {
		if e.PublicKey == nil {
			continue
		}
		set.Keys = append(set.Keys, JWK{
			Kid: e.ID,
			Kty: "RSA",
			Alg: e.Algorithm,
			Use: e.Use,
			N:   base64.RawURLEncoding.EncodeToString(e.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(e.PublicKey.E)).Bytes()),
		})
	}
	return set
}
