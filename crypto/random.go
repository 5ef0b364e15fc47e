// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crypto implements the primitive cryptographic operations used
// throughout CipherBox: AEAD sealing, stream-cipher encryption for large
// media, elliptic-curve key wrapping, Ed25519 signing, HKDF, and the
// zero-on-drop Secret container. It is deliberately low-level; all
// higher-level packages (keyderiv, codec, ipns, share, tee) are built on
// top of it and never reach into crypto/*, crypto/cipher, crypto/ecdsa etc.
// directly.
package crypto

import (
	"crypto/rand"

	"cipherbox.io/errors"
)

// GenerateRandomBytes returns n cryptographically random bytes read from the
// operating system's CSPRNG. It never falls back to a weaker source.
func GenerateRandomBytes(n int) ([]byte, error) {
	const op = "crypto.GenerateRandomBytes"
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.E(op, err)
	}
	return b, nil
}
