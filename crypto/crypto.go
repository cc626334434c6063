// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package crypto exposes the signature and hashing capabilities the engine
// consumes. Implementations are supplied to the engine, never assumed.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"golang.org/x/crypto/ripemd160"

	avacrypto "github.com/ava-labs/avalanchego/utils/crypto"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

// KeyType is the algorithm of an identity public key.
type KeyType uint8

const (
	ECDSASecp256k1 KeyType = iota
	BLS12381
	ECDSAHash160
	BIP13ScriptHash
	EdDSA25519Hash160
)

var (
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	_ Verifier = &DefaultVerifier{}
	_ Hasher   = SHA256{}
)

func (k KeyType) String() string {
	switch k {
	case ECDSASecp256k1:
		return "ECDSA_SECP256K1"
	case BLS12381:
		return "BLS12_381"
	case ECDSAHash160:
		return "ECDSA_HASH160"
	case BIP13ScriptHash:
		return "BIP13_SCRIPT_HASH"
	case EdDSA25519Hash160:
		return "EDDSA_25519_HASH160"
	default:
		return fmt.Sprintf("KeyType(%d)", uint8(k))
	}
}

// DataSize is the expected length of the key data stored for [k].
func (k KeyType) DataSize() int {
	switch k {
	case ECDSASecp256k1:
		return 33
	case BLS12381:
		return 48
	case ECDSAHash160, BIP13ScriptHash, EdDSA25519Hash160:
		return 20
	default:
		return 0
	}
}

// Valid reports whether [k] is a known key type.
func (k KeyType) Valid() bool {
	return k <= EdDSA25519Hash160
}

// CanSign reports whether keys of type [k] can sign transitions at all.
func (k KeyType) CanSign() bool {
	return k.Valid() && k != BIP13ScriptHash
}

// Verifier checks a signature over [data] against key material of type [kt].
// It returns ErrUnsupportedKeyType when it cannot verify that key type.
type Verifier interface {
	VerifySignature(sig, data, pubkey []byte, kt KeyType) (bool, error)
}

// Hasher is the hash used for identifiers and canonical digests.
type Hasher interface {
	Hash(data []byte) []byte
}

// SHA256 hashes with a single round of sha256.
type SHA256 struct{}

func (SHA256) Hash(data []byte) []byte { return hashing.ComputeHash256(data) }

// Hash160 is ripemd160(sha256(data)).
func Hash160(data []byte) []byte {
	sha := hashing.ComputeHash256(data)
	h := ripemd160.New()
	_, _ = h.Write(sha)
	return h.Sum(nil)
}

// DoubleSHA256 is sha256(sha256(data)).
func DoubleSHA256(data []byte) []byte {
	return hashing.ComputeHash256(hashing.ComputeHash256(data))
}

// DefaultVerifier verifies secp256k1, secp256k1 hash160 and ed25519 hash160
// signatures. BLS keys are not supported.
type DefaultVerifier struct {
	factory avacrypto.FactorySECP256K1R
}

// NewVerifier returns the default verifier.
func NewVerifier() *DefaultVerifier {
	return &DefaultVerifier{}
}

func (v *DefaultVerifier) VerifySignature(sig, data, pubkey []byte, kt KeyType) (bool, error) {
	switch kt {
	case ECDSASecp256k1:
		pk, err := v.factory.ToPublicKey(pubkey)
		if err != nil {
			return false, nil
		}
		return pk.Verify(data, sig), nil
	case ECDSAHash160:
		pk, err := v.factory.RecoverPublicKey(data, sig)
		if err != nil {
			return false, nil
		}
		return bytes.Equal(hashing.PubkeyBytesToAddress(pk.Bytes()), pubkey), nil
	case EdDSA25519Hash160:
		// signature is the 32 byte public key followed by the 64 byte signature
		if len(sig) != ed25519.PublicKeySize+ed25519.SignatureSize {
			return false, nil
		}
		pub := ed25519.PublicKey(sig[:ed25519.PublicKeySize])
		if !bytes.Equal(Hash160(pub), pubkey) {
			return false, nil
		}
		return ed25519.Verify(pub, data, sig[ed25519.PublicKeySize:]), nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedKeyType, kt)
	}
}
