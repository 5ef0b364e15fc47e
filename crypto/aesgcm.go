// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"cipherbox.io/errors"
)

// AESKeyLen is the length in bytes of an AES-256 key.
const AESKeyLen = 32

// GCMNonceLen is the length in bytes of the nonce (IV) used for AES-GCM
// sealing throughout CipherBox.
const GCMNonceLen = 12

// errDecryptionFailed is the single, generic error returned by every
// authenticated-decrypt failure path in this package. Its text never
// distinguishes wrong key from corrupt ciphertext from truncated input, so
// that no caller can build an oracle out of error messages.
var errDecryptionFailed = errors.Str("decryption failed")

// AESGCMSeal encrypts plaintext with AES-256-GCM under key using iv as the
// nonce, returning ciphertext with the authentication tag appended. iv must
// never be reused with the same key; callers are expected to generate a
// fresh one (via GenerateRandomBytes) for every call.
func AESGCMSeal(plaintext, key, iv []byte) ([]byte, error) {
	const op = "crypto.AESGCMSeal"
	aead, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, errors.InvalidKeySize, err)
	}
	if len(iv) != GCMNonceLen {
		return nil, errors.E(op, errors.InvalidKeySize, errors.Str("wrong IV length"))
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

// AESGCMOpen decrypts and authenticates ciphertext with AES-256-GCM under
// key using iv as the nonce. It returns errDecryptionFailed (Kind
// DecryptionFailed), with no further detail, on any authentication-tag
// mismatch or malformed input.
func AESGCMOpen(ciphertext, key, iv []byte) ([]byte, error) {
	const op = "crypto.AESGCMOpen"
	aead, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, errors.InvalidKeySize, err)
	}
	if len(iv) != GCMNonceLen {
		return nil, errors.E(op, errors.DecryptionFailed, errDecryptionFailed)
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, errors.E(op, errors.DecryptionFailed, errDecryptionFailed)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeyLen {
		return nil, errors.Str("wrong key length for AES-256")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ConstantTimeEqual reports whether a and b are equal, in time independent
// of their contents (though not of their lengths). It is the only
// comparison function permitted for key hashes, MACs, and signatures
// throughout CipherBox.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
