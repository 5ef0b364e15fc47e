// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"cipherbox.io/errors"
)

// Secp256k1PrivateKeyLen is the raw scalar length of a secp256k1
// private key, the same 32-byte form UnwrapKey expects.
const Secp256k1PrivateKeyLen = 32

// Secp256k1FromSeed deterministically derives a secp256k1 key pair
// from a 32-byte seed, for use by keyderiv's owner-key domain (the
// ECIES key every FolderPointer's encWrappedPrivKey/encWrappedFolderKey
// fields are wrapped under). Unlike Ed25519, not every 32-byte string
// is a valid secp256k1 scalar; a seed that reduces to zero or overflows
// the curve order is rejected so the caller can re-derive with a
// varied id rather than silently producing a degenerate key.
func Secp256k1FromSeed(seed []byte) (priv *Secret, pub []byte, err error) {
	const op = "crypto.Secp256k1FromSeed"
	if len(seed) != Secp256k1PrivateKeyLen {
		return nil, nil, errors.E(op, errors.InvalidKeySize, errors.Str("seed must be 32 bytes"))
	}
	var scalar secp256k1.ModNScalar
	overflow := scalar.SetByteSlice(seed)
	if overflow || scalar.IsZero() {
		return nil, nil, errors.E(op, errors.KeyDerivationFailed, errors.Str("derived scalar out of range"))
	}
	sk := secp256k1.NewPrivateKey(&scalar)
	pub = sk.PubKey().SerializeUncompressed()
	return NewSecret(append([]byte(nil), seed...)), pub, nil
}
