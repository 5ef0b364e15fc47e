// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/ed25519"

	"cipherbox.io/errors"
)

// Ed25519SeedLen, Ed25519PublicKeyLen, and Ed25519PrivateKeyLen describe the
// libp2p-compatible layout CipherBox uses for Ed25519 key pairs: a private
// key is stored as seed (32 bytes) concatenated with the public key (32
// bytes), matching ed25519.PrivateKey's own in-memory layout so stdlib
// operations need no repacking.
const (
	Ed25519SeedLen       = ed25519.SeedSize
	Ed25519PublicKeyLen  = ed25519.PublicKeySize
	Ed25519PrivateKeyLen = ed25519.PrivateKeySize
	Ed25519SignatureLen  = ed25519.SignatureSize
)

// GenerateEd25519 returns a fresh Ed25519 key pair. The private key is
// returned as a Secret in the 64-byte seed‖public layout.
func GenerateEd25519() (priv *Secret, pub []byte, err error) {
	const op = "crypto.GenerateEd25519"
	seed, err := GenerateRandomBytes(Ed25519SeedLen)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	sk := ed25519.NewKeyFromSeed(seed)
	zeroBytes(seed)
	pub = append([]byte(nil), sk[Ed25519SeedLen:]...)
	return NewSecret([]byte(sk)), pub, nil
}

// Ed25519FromSeed deterministically derives the 64-byte libp2p-layout
// private key and 32-byte public key from a 32-byte seed, for use by
// keyderiv's HKDF-derived keys (as opposed to GenerateEd25519's random
// keys).
func Ed25519FromSeed(seed []byte) (*Secret, []byte, error) {
	const op = "crypto.Ed25519FromSeed"
	if len(seed) != Ed25519SeedLen {
		return nil, nil, errors.E(op, errors.InvalidKeySize, errors.Str("wrong Ed25519 seed length"))
	}
	sk := ed25519.NewKeyFromSeed(seed)
	pub := append([]byte(nil), sk[Ed25519SeedLen:]...)
	return NewSecret([]byte(sk)), pub, nil
}

// SignEd25519 signs message with the 64-byte libp2p-layout private key held
// in signingKey, returning the 64-byte signature.
func SignEd25519(signingKey *Secret, message []byte) ([]byte, error) {
	const op = "crypto.SignEd25519"
	b := signingKey.Bytes()
	if len(b) != Ed25519PrivateKeyLen {
		return nil, errors.E(op, errors.InvalidKeySize, errors.Str("wrong Ed25519 private key length"))
	}
	sig := ed25519.Sign(ed25519.PrivateKey(b), message)
	return sig, nil
}

// VerifyEd25519 reports whether sig is a valid Ed25519 signature over
// message under the 32-byte raw public key pub.
func VerifyEd25519(sig, message, pub []byte) bool {
	if len(pub) != Ed25519PublicKeyLen || len(sig) != Ed25519SignatureLen {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// Ed25519PublicFromPrivate extracts the 32-byte raw public key from a
// 64-byte libp2p-layout private key.
func Ed25519PublicFromPrivate(signingKey *Secret) ([]byte, error) {
	const op = "crypto.Ed25519PublicFromPrivate"
	b := signingKey.Bytes()
	if len(b) != Ed25519PrivateKeyLen {
		return nil, errors.E(op, errors.InvalidKeySize, errors.Str("wrong Ed25519 private key length"))
	}
	return append([]byte(nil), b[Ed25519SeedLen:]...), nil
}
