// Package crypto implements the node's crypto primitives (§4.1):
// hashing, SECP256k1 keypairs, DER-encoded ECDSA signatures, and
// address derivation. Grounded on the teacher's pkg/util hashing
// helpers and the SECP256k1 stack EXCCoin-exccd depends on directly.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address scheme requires RIPEMD-160, as Bitcoin-derived chains do

	"github.com/fractalpow/node/pkg/util"
)

// Errors returned by this package (§4.1's "invalid key encoding,
// malformed signature" error kinds).
var (
	ErrInvalidPrivateKey = errors.New("crypto: invalid private key encoding")
	ErrInvalidPublicKey  = errors.New("crypto: invalid public key encoding")
	ErrMalformedSignature = errors.New("crypto: malformed signature")
)

// KeyPair holds a SECP256k1 private/public key pair.
type KeyPair struct {
	Private *secp256k1.PrivateKey
	Public  *secp256k1.PublicKey
}

// GenerateKeyPair creates a new random SECP256k1 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return &KeyPair{Private: priv, Public: priv.PubKey()}, nil
}

// PrivateKeyFromBytes parses a 32-byte raw private key.
func PrivateKeyFromBytes(b []byte) (*secp256k1.PrivateKey, error) {
	if len(b) != 32 {
		return nil, ErrInvalidPrivateKey
	}
	priv := secp256k1.PrivKeyFromBytes(b)
	return priv, nil
}

// PublicKeyFromBytes parses a compressed or uncompressed public key.
func PublicKeyFromBytes(b []byte) (*secp256k1.PublicKey, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// Sign computes a DER-encoded ECDSA signature over SHA-256(msg) (§4.1).
func Sign(priv *secp256k1.PrivateKey, msg []byte) []byte {
	digest := util.Sha256(msg)
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

// Verify checks a DER-encoded ECDSA signature over SHA-256(msg) against
// the given public key.
func Verify(pub *secp256k1.PublicKey, msg, sig []byte) (bool, error) {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	digest := util.Sha256(msg)
	return parsed.Verify(digest[:], pub), nil
}

// AddressFromPub derives a node address from an uncompressed public key:
// base58(ripemd160(sha256(pubkey))) (§4.1).
func AddressFromPub(pub *secp256k1.PublicKey) (string, error) {
	uncompressed := pub.SerializeUncompressed()
	shaSum := util.Sha256(uncompressed)

	hasher := ripemd160.New()
	if _, err := hasher.Write(shaSum[:]); err != nil {
		return "", fmt.Errorf("ripemd160: %w", err)
	}
	return base58.Encode(hasher.Sum(nil)), nil
}

// ValidateAddress reports whether s decodes as a well-formed address of
// the length the network expects (§3: 25-64 chars).
func ValidateAddress(s string) error {
	if len(s) < 25 || len(s) > 64 {
		return fmt.Errorf("address length %d out of range [25,64]", len(s))
	}
	if _, err := base58.Decode(s); err != nil {
		return fmt.Errorf("invalid base58 address: %w", err)
	}
	return nil
}
