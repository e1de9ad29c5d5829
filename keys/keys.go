// Package keys loads the asymmetric signing key pair used to sign and
// verify access tokens.
//
// The key pair is loaded once at startup from a password-protected PKCS#12
// keystore (or an unencrypted PEM file) and held for the process lifetime.
// A load failure is fatal for the server: no token endpoint may be served
// without valid signing material.
package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// ErrKeyLoad is wrapped by every failure mode of Load: missing keystore,
// wrong password, or no usable RSA key entry.
var ErrKeyLoad = errors.New("keys: cannot load signing key")

// Pair is an RSA signing key pair.
type Pair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey

	// KeyID identifies the pair in published key sets and token headers.
	KeyID string
}

// Load reads the signing key pair from the keystore at path. PKCS#12
// keystores are decrypted with password; PEM files ignore it.
func Load(path, password string) (*Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyLoad, err)
	}

	if isPEM(data) {
		return fromPEM(data)
	}
	return fromPKCS12(data, password)
}

// FromPrivateKey wraps an already-constructed private key, mainly for
// tests and embedded setups.
func FromPrivateKey(key *rsa.PrivateKey, keyID string) *Pair {
	return &Pair{Private: key, Public: &key.PublicKey, KeyID: keyID}
}

func isPEM(data []byte) bool {
	block, _ := pem.Decode(data)
	return block != nil
}

func fromPKCS12(data []byte, password string) (*Pair, error) {
	key, _, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decode keystore: %w", ErrKeyLoad, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: keystore entry is not an RSA key", ErrKeyLoad)
	}
	return FromPrivateKey(rsaKey, "jwt"), nil
}

func fromPEM(data []byte) (*Pair, error) {
	for block, rest := pem.Decode(data); block != nil; block, rest = pem.Decode(rest) {
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: parse PKCS#1 key: %w", ErrKeyLoad, err)
			}
			return FromPrivateKey(key, "jwt"), nil
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("%w: parse PKCS#8 key: %w", ErrKeyLoad, err)
			}
			rsaKey, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("%w: PEM entry is not an RSA key", ErrKeyLoad)
			}
			return FromPrivateKey(rsaKey, "jwt"), nil
		}
	}
	return nil, fmt.Errorf("%w: no private key entry in PEM data", ErrKeyLoad)
}
