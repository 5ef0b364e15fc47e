// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keyderiv derives CipherBox's key hierarchy from a single root
// secret via HKDF-SHA256: a tree of per-folder, per-file, and
// per-registry signing keys plus the owner's ECIES key, all
// reproducible from the root secret and an environment selector.
package keyderiv

import (
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
)

// Env identifies the deployment environment a RootSecret is bound to.
// Deliberately mixing environments must yield disjoint Name spaces, so
// test and production traffic never collide on the same sequence counter;
// Env is folded into every derivation's info string for exactly that
// reason.
type Env string

// The recognized environments.
const (
	Local      Env = "local"
	CI         Env = "ci"
	Staging    Env = "staging"
	Production Env = "production"
)

// Valid reports whether e is one of the recognized environments.
func (e Env) Valid() bool {
	switch e {
	case Local, CI, Staging, Production:
		return true
	}
	return false
}

// salt is the fixed HKDF salt for every derivation CipherBox performs from
// the root secret. It is not a secret; it exists only to domain-separate
// this KDF from any other use of HKDF-SHA256 over the same root secret.
var salt = []byte("CipherBox-IPNS-v1")

// RootSecretLen is the length in bytes of a RootSecret.
const RootSecretLen = 32

// RootSecret is the 32-byte user secret issued by the identity layer. It is
// owned by one live process at a time and must be cleared (Zero) on
// logout; every other key in the system derives from it.
type RootSecret struct {
	secret *crypto.Secret
}

// NewRootSecret wraps raw key bytes (which must be exactly RootSecretLen)
// as a RootSecret.
func NewRootSecret(raw []byte) (*RootSecret, error) {
	const op = "keyderiv.NewRootSecret"
	if len(raw) != RootSecretLen {
		return nil, errors.E(op, errors.InvalidKeySize, errors.Str("root secret must be 32 bytes"))
	}
	return &RootSecret{secret: crypto.NewSecret(append([]byte(nil), raw...))}, nil
}

// Zero clears the root secret. Callers must call this at logout; after
// Zero, the RootSecret must not be used again.
func (r *RootSecret) Zero() {
	if r == nil {
		return
	}
	r.secret.Zero()
}

func (r *RootSecret) bytes() []byte {
	return r.secret.Bytes()
}

// info builds the structured HKDF info string "<env>:<domain>:<id>".
// id may be empty, in which case the trailing ":<id>" segment is
// omitted (used by the registry domain, which has no per-object id).
func info(env Env, domain, id string) []byte {
	s := string(env) + ":" + domain
	if id != "" {
		s += ":" + id
	}
	return []byte(s)
}

// DeriveFolderKey derives the Ed25519 signing key pair for the folder
// identified by folderID (a UUID string). The returned private key is in
// the 64-byte seed‖public libp2p layout.
func DeriveFolderKey(root *RootSecret, env Env, folderID string) (priv *crypto.Secret, pub []byte, err error) {
	return deriveEd25519(root, env, "folder", folderID)
}

// DeriveLegacyFileKey derives the Ed25519 signing key pair for a file using
// the legacy HKDF-derivation path. New files generate a random key instead
// (see crypto.GenerateEd25519) and store its ECIES-wrapped form in the
// FilePointer; this path exists only so files created before that change
// can still be addressed and lazily migrated.
func DeriveLegacyFileKey(root *RootSecret, env Env, fileID string) (priv *crypto.Secret, pub []byte, err error) {
	return deriveEd25519(root, env, "file", fileID)
}

// DeriveRegistryKey derives the per-user device-registry Ed25519 signing
// key pair. There is exactly one per (root secret, environment) pair.
func DeriveRegistryKey(root *RootSecret, env Env) (priv *crypto.Secret, pub []byte, err error) {
	return deriveEd25519(root, env, "registry", "")
}

// DeriveFolderSymmetricKey derives the AES-256 key the root folder's
// metadata is sealed under. It lives in its own "folder-key" domain so
// it is independent of the folder's Ed25519 signing key: the two are
// wrapped into a parent FolderPointer as two separate secrets
// (encWrappedPrivKey and encWrappedFolderKey), and rotation replaces
// the symmetric key without touching the signing identity. The root
// folder has no parent pointer to hold a wrapped key, so its key is
// the one symmetric key derived directly from the root secret;
// subfolder and file keys are random at creation.
func DeriveFolderSymmetricKey(root *RootSecret, env Env, folderID string) (*crypto.Secret, error) {
	const op = "keyderiv.DeriveFolderSymmetricKey"
	if !env.Valid() {
		return nil, errors.E(op, errors.KeyDerivationFailed, errors.Str("unknown environment"))
	}
	key, err := crypto.HKDF(root.bytes(), salt, info(env, "folder-key", folderID), crypto.AESKeyLen)
	if err != nil {
		return nil, errors.E(op, errors.KeyDerivationFailed, err)
	}
	return crypto.NewSecret(key), nil
}

// DeriveOwnerKey derives the secp256k1 key pair used to ECIES-wrap a
// folder's own signing key and symmetric key into its parent
// FolderPointer's encWrappedPrivKey/encWrappedFolderKey fields. There
// is exactly one per (root secret, environment) pair, reused for every
// folder the user owns; it gets its own "owner" derivation domain so
// it can never collide with an Ed25519 signing key.
func DeriveOwnerKey(root *RootSecret, env Env) (priv *crypto.Secret, pub []byte, err error) {
	const op = "keyderiv.DeriveOwnerKey"
	if !env.Valid() {
		return nil, nil, errors.E(op, errors.KeyDerivationFailed, errors.Str("unknown environment"))
	}
	seed, err := crypto.HKDF(root.bytes(), salt, info(env, "owner", ""), crypto.Secp256k1PrivateKeyLen)
	if err != nil {
		return nil, nil, errors.E(op, errors.KeyDerivationFailed, err)
	}
	priv, pub, err = crypto.Secp256k1FromSeed(seed)
	crypto.NewSecret(seed).Zero()
	if err != nil {
		return nil, nil, errors.E(op, errors.KeyDerivationFailed, err)
	}
	return priv, pub, nil
}

func deriveEd25519(root *RootSecret, env Env, domain, id string) (*crypto.Secret, []byte, error) {
	const op = "keyderiv.deriveEd25519"
	if !env.Valid() {
		return nil, nil, errors.E(op, errors.KeyDerivationFailed, errors.Str("unknown environment"))
	}
	seed, err := crypto.HKDF(root.bytes(), salt, info(env, domain, id), crypto.Ed25519SeedLen)
	if err != nil {
		return nil, nil, errors.E(op, errors.KeyDerivationFailed, err)
	}
	priv, pub, err := crypto.Ed25519FromSeed(seed)
	crypto.NewSecret(seed).Zero()
	if err != nil {
		return nil, nil, errors.E(op, errors.KeyDerivationFailed, err)
	}
	return priv, pub, nil
}
