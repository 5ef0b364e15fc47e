// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"cipherbox.io/errors"
)

// ECIES key wrapping: ephemeral ECDH over secp256k1, HKDF-SHA256 to turn the
// shared point into a strong AES-256 key, then AES-GCM seal.
//
// Wire format of a wrapped key: ephemeralPubKey (65 bytes, uncompressed,
// starting with 0x04) ‖ nonce (12 bytes) ‖ AES-GCM(ciphertext‖tag).
const (
	uncompressedPubKeyLen = 65
	wrapMinCiphertextLen  = uncompressedPubKeyLen + GCMNonceLen + 16 // + GCM tag, no plaintext
)

var (
	errNotOnCurve    = errors.Str("a crypto attack was attempted against you; see safecurves.cr.yp.to/twist.html for details")
	errBadPubKey     = errors.Str("public key is not a valid uncompressed secp256k1 point")
	errShortWrapped  = errors.Str("wrapped key too short")
	wrapHKDFInfoText = []byte("cipherbox-ecies-wrap-v1")
)

// parseUncompressedPubKey validates and parses a 65-byte 0x04-prefixed
// uncompressed secp256k1 public key, rejecting any point not on the curve.
func parseUncompressedPubKey(pub []byte) (*btcec.PublicKey, error) {
	if len(pub) != uncompressedPubKeyLen || pub[0] != 0x04 {
		return nil, errBadPubKey
	}
	pk, err := btcec.ParsePubKey(pub)
	if err != nil {
		return nil, errNotOnCurve
	}
	return pk, nil
}

// WrapKey ECIES-wraps plaintext under the recipient's 65-byte uncompressed
// secp256k1 public key.
func WrapKey(plaintext, recipientPubKey []byte) ([]byte, error) {
	const op = "crypto.WrapKey"
	R, err := parseUncompressedPubKey(recipientPubKey)
	if err != nil {
		return nil, errors.E(op, errors.InvalidKeySize, err)
	}

	ephemeralPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer zeroBytes(ephemeralPrivBytes(ephemeralPriv))

	shared := ecdh(ephemeralPriv, R)
	defer zeroBytes(shared)

	nonce, err := GenerateRandomBytes(GCMNonceLen)
	if err != nil {
		return nil, errors.E(op, err)
	}

	strong, err := HKDF(shared, nil, wrapInfo(ephemeralPriv.PubKey().SerializeUncompressed(), nonce), AESKeyLen)
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer zeroBytes(strong)

	sealed, err := AESGCMSeal(plaintext, strong, nonce)
	if err != nil {
		return nil, errors.E(op, err)
	}

	out := make([]byte, 0, uncompressedPubKeyLen+GCMNonceLen+len(sealed))
	out = append(out, ephemeralPriv.PubKey().SerializeUncompressed()...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// UnwrapKey inverts WrapKey using the recipient's private key.
func UnwrapKey(wrapped []byte, recipientPriv *Secret) ([]byte, error) {
	const op = "crypto.UnwrapKey"
	if len(wrapped) < wrapMinCiphertextLen {
		return nil, errors.E(op, errors.DecryptionFailed, errShortWrapped)
	}
	ephemeralPub := wrapped[:uncompressedPubKeyLen]
	nonce := wrapped[uncompressedPubKeyLen : uncompressedPubKeyLen+GCMNonceLen]
	sealed := wrapped[uncompressedPubKeyLen+GCMNonceLen:]

	E, err := parseUncompressedPubKey(ephemeralPub)
	if err != nil {
		return nil, errors.E(op, errors.DecryptionFailed, errDecryptionFailed)
	}

	privBytes := recipientPriv.Bytes()
	if len(privBytes) != 32 {
		return nil, errors.E(op, errors.InvalidKeySize, errors.Str("wrong secp256k1 private key length"))
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)

	shared := ecdh(priv, E)
	defer zeroBytes(shared)

	strong, err := HKDF(shared, nil, wrapInfo(ephemeralPub, nonce), AESKeyLen)
	if err != nil {
		return nil, errors.E(op, errors.DecryptionFailed, errDecryptionFailed)
	}
	defer zeroBytes(strong)

	plaintext, err := AESGCMOpen(sealed, strong, nonce)
	if err != nil {
		return nil, errors.E(op, errors.DecryptionFailed, errDecryptionFailed)
	}
	return plaintext, nil
}

// ecdh computes the shared point priv * pub and returns the SHA-256 hash
// of its x-coordinate, used as HKDF input material in WrapKey/UnwrapKey.
func ecdh(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	pub.AsJacobian(&point)

	var scalar secp256k1.ModNScalar
	scalar.Set(&priv.Key)
	secp256k1.ScalarMultNonConst(&scalar, &point, &result)
	result.ToAffine()

	x := result.X.Bytes()
	sum := sha256.Sum256(x[:])
	return sum[:]
}

func wrapInfo(ephemeralPub, nonce []byte) []byte {
	info := make([]byte, 0, len(ephemeralPub)+len(nonce)+8)
	var lens [8]byte
	binary.BigEndian.PutUint32(lens[0:4], uint32(len(ephemeralPub)))
	binary.BigEndian.PutUint32(lens[4:8], uint32(len(nonce)))
	info = append(info, wrapHKDFInfoText...)
	info = append(info, lens[:]...)
	info = append(info, ephemeralPub...)
	info = append(info, nonce...)
	return info
}

func ephemeralPrivBytes(k *btcec.PrivateKey) []byte {
	return k.Serialize()
}
