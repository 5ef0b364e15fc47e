// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package name derives CipherBox's stable public identifiers ("Names")
// from Ed25519 public keys, wire-compatible with the public IPFS/IPNS
// ecosystem: a Name is a CIDv1 wrapping an identity multihash of a
// libp2p-framed Ed25519 public key, displayed in either of two
// multibase encodings.
package name

import (
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"

	"cipherbox.io/crypto"
	"cipherbox.io/errors"
)

// libp2pKeyCodec is the multicodec value for "libp2p-key", the codec
// every IPNS name is tagged with. It is small and stable enough to
// hardcode rather than pull in a full multicodec table dependency for
// one constant.
const libp2pKeyCodec = 0x72

// Ed25519Libp2pPrefix is the protobuf framing libp2p wraps a raw
// Ed25519 public key in before hashing: a PublicKey message with
// Type=Ed25519 (field 1, varint 1) and Data (field 2, length-delimited,
// 32 bytes). The name-record engine's PubKey field uses this same
// framing, so it is exported rather than duplicated.
var Ed25519Libp2pPrefix = []byte{0x08, 0x01, 0x12, 0x20}

// WrapEd25519PubKey frames a raw 32-byte Ed25519 public key in the
// libp2p PublicKey protobuf layout.
func WrapEd25519PubKey(pub []byte) []byte {
	wrapped := make([]byte, 0, len(Ed25519Libp2pPrefix)+len(pub))
	wrapped = append(wrapped, Ed25519Libp2pPrefix...)
	wrapped = append(wrapped, pub...)
	return wrapped
}

// UnwrapEd25519PubKey extracts the raw 32-byte Ed25519 public key from
// its libp2p protobuf framing. It accepts only the exact 36-byte
// prefix; anything else is rejected rather than guessed at.
func UnwrapEd25519PubKey(wrapped []byte) ([]byte, error) {
	const op = "name.UnwrapEd25519PubKey"
	if len(wrapped) != len(Ed25519Libp2pPrefix)+crypto.Ed25519PublicKeyLen {
		return nil, errors.E(op, errors.NameNotFound, errors.Str("wrong wrapped public key length"))
	}
	for i, b := range Ed25519Libp2pPrefix {
		if wrapped[i] != b {
			return nil, errors.E(op, errors.NameNotFound, errors.Str("unrecognized public key framing"))
		}
	}
	return append([]byte(nil), wrapped[len(Ed25519Libp2pPrefix):]...), nil
}

// Name is a CipherBox Name: a CIDv1(libp2p-key, identity-multihash(...))
// wrapping a 32-byte Ed25519 public key.
type Name struct {
	pub []byte // raw 32-byte Ed25519 public key
	cid []byte // the undecorated CIDv1 bytes
}

// Derive computes the Name for a raw 32-byte Ed25519 public key. It is a
// total function: identical input bytes always yield an identical Name.
func Derive(pub []byte) (Name, error) {
	const op = "name.Derive"
	if len(pub) != crypto.Ed25519PublicKeyLen {
		return Name{}, errors.E(op, errors.InvalidKeySize, errors.Str("public key must be 32 bytes"))
	}
	wrapped := WrapEd25519PubKey(pub)

	mh, err := multihash.Encode(wrapped, multihash.IDENTITY)
	if err != nil {
		return Name{}, errors.E(op, err)
	}
	cid := append(varint.ToUvarint(1), varint.ToUvarint(libp2pKeyCodec)...)
	cid = append(cid, mh...)

	return Name{pub: append([]byte(nil), pub...), cid: cid}, nil
}

// Bytes returns the raw 32-byte Ed25519 public key this Name was derived
// from.
func (n Name) Bytes() []byte {
	return append([]byte(nil), n.pub...)
}

// IsZero reports whether n is the zero Name.
func (n Name) IsZero() bool {
	return len(n.cid) == 0
}

// Equal reports whether n and o name the same public key.
func (n Name) Equal(o Name) bool {
	return string(n.cid) == string(o.cid)
}

// Base36 renders n in the base36 display form ("k51qzi5uqu5...").
func (n Name) Base36() (string, error) {
	const op = "name.Base36"
	s, err := multibase.Encode(multibase.Base36, n.cid)
	if err != nil {
		return "", errors.E(op, err)
	}
	return s, nil
}

// Base32 renders n in the base32 display form ("bafzaa...").
func (n Name) Base32() (string, error) {
	const op = "name.Base32"
	s, err := multibase.Encode(multibase.Base32, n.cid)
	if err != nil {
		return "", errors.E(op, err)
	}
	return s, nil
}

// String renders n using the base32 form, CipherBox's canonical internal
// display encoding; Parse accepts either encoding back.
func (n Name) String() string {
	s, err := n.Base32()
	if err != nil {
		return ""
	}
	return s
}

// Parse decodes a Name from either its base36 or base32 display form.
func Parse(s string) (Name, error) {
	const op = "name.Parse"
	_, cid, err := multibase.Decode(s)
	if err != nil {
		return Name{}, errors.E(op, errors.NameNotFound, err)
	}

	version, n, err := varint.FromUvarint(cid)
	if err != nil {
		return Name{}, errors.E(op, errors.NameNotFound, errors.Str("malformed CID version"))
	}
	if version != 1 {
		return Name{}, errors.E(op, errors.NameNotFound, errors.Str("unsupported CID version"))
	}
	rest := cid[n:]
	codec, n, err := varint.FromUvarint(rest)
	if err != nil {
		return Name{}, errors.E(op, errors.NameNotFound, errors.Str("malformed CID codec"))
	}
	if codec != libp2pKeyCodec {
		return Name{}, errors.E(op, errors.NameNotFound, errors.Str("unsupported CID codec"))
	}
	rest = rest[n:]

	decoded, err := multihash.Decode(rest)
	if err != nil {
		return Name{}, errors.E(op, errors.NameNotFound, err)
	}
	if decoded.Code != multihash.IDENTITY {
		return Name{}, errors.E(op, errors.NameNotFound, errors.Str("non-identity multihash"))
	}

	pub, err := UnwrapEd25519PubKey(decoded.Digest)
	if err != nil {
		return Name{}, errors.E(op, err)
	}
	return Derive(pub)
}
