// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"cipherbox.io/errors"
)

// HKDF expands ikm into outLen bytes of key material using HKDF-SHA256,
// following RFC 5869. CipherBox uses it both for ECIES (turning an ECDH
// shared point into a strong symmetric key) and in keyderiv, with
// different salt/info per call site.
func HKDF(ikm, salt, info []byte, outLen int) ([]byte, error) {
	const op = "crypto.HKDF"
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.E(op, errors.KeyDerivationFailed, err)
	}
	return out, nil
}
