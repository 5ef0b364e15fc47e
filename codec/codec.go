// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codec serializes, encrypts, decrypts, and validates folder and
// file metadata envelopes: canonical JSON under a fresh IV and AES-GCM,
// with structural validation applied after every decrypt.
package codec

import (
	"encoding/hex"
	"encoding/json"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
)

// minWrappedHexLen is the lower bound on a hex-encoded ECIES ciphertext
// field: the ephemeral pubkey alone is 65 bytes, so anything shorter
// than 64 hex chars (32 bytes) cannot be a real wrap.
const minWrappedHexLen = 64

// MaxFolderDepth is the maximum depth of the folder tree. The root
// folder is depth 0.
const MaxFolderDepth = 20

// ErrMaxDepthExceeded is the sentinel wrapped by ValidateDepth's error
// when a folder creation would exceed MaxFolderDepth.
var ErrMaxDepthExceeded = errors.Str("folder tree depth exceeds maximum of 20")

// EncryptFolderMetadata serializes meta to canonical JSON and seals it
// under folderKey, returning the on-wire Envelope. The plaintext buffer
// is zeroed before return.
func EncryptFolderMetadata(meta cipherbox.FolderMetadata, folderKey *crypto.Secret) (cipherbox.Envelope, error) {
	const op = "codec.EncryptFolderMetadata"
	plaintext, err := json.Marshal(meta)
	if err != nil {
		return cipherbox.Envelope{}, errors.E(op, err)
	}
	env, err := seal(plaintext, folderKey)
	if err != nil {
		return cipherbox.Envelope{}, errors.E(op, err)
	}
	return env, nil
}

// DecryptFolderMetadata inverts EncryptFolderMetadata and validates the
// result. Any failure -- auth tag mismatch, malformed JSON, or a
// validation failure -- is reported as DecryptionFailed with no further
// detail, so the error text never distinguishes which check failed.
func DecryptFolderMetadata(env cipherbox.Envelope, folderKey *crypto.Secret) (cipherbox.FolderMetadata, error) {
	const op = "codec.DecryptFolderMetadata"
	plaintext, err := open(env, folderKey)
	if err != nil {
		return cipherbox.FolderMetadata{}, errors.E(op, errors.DecryptionFailed)
	}
	defer crypto.NewSecret(plaintext).Zero()

	var meta cipherbox.FolderMetadata
	if err := json.Unmarshal(plaintext, &meta); err != nil {
		return cipherbox.FolderMetadata{}, errors.E(op, errors.DecryptionFailed)
	}
	if err := validateFolderMetadata(meta); err != nil {
		return cipherbox.FolderMetadata{}, errors.E(op, errors.DecryptionFailed)
	}
	return meta, nil
}

// EncryptFileMetadata serializes meta to canonical JSON and seals it
// under the parent folder's symmetric key.
func EncryptFileMetadata(meta cipherbox.FileMetadata, folderKey *crypto.Secret) (cipherbox.Envelope, error) {
	const op = "codec.EncryptFileMetadata"
	plaintext, err := json.Marshal(meta)
	if err != nil {
		return cipherbox.Envelope{}, errors.E(op, err)
	}
	env, err := seal(plaintext, folderKey)
	if err != nil {
		return cipherbox.Envelope{}, errors.E(op, err)
	}
	return env, nil
}

// DecryptFileMetadata inverts EncryptFileMetadata and validates the
// result.
func DecryptFileMetadata(env cipherbox.Envelope, folderKey *crypto.Secret) (cipherbox.FileMetadata, error) {
	const op = "codec.DecryptFileMetadata"
	plaintext, err := open(env, folderKey)
	if err != nil {
		return cipherbox.FileMetadata{}, errors.E(op, errors.DecryptionFailed, err)
	}
	defer crypto.NewSecret(plaintext).Zero()

	var meta cipherbox.FileMetadata
	if err := json.Unmarshal(plaintext, &meta); err != nil {
		return cipherbox.FileMetadata{}, errors.E(op, errors.DecryptionFailed, errors.Str("malformed file metadata"))
	}
	if err := validateFileMetadata(meta); err != nil {
		return cipherbox.FileMetadata{}, errors.E(op, errors.DecryptionFailed, err)
	}
	return meta, nil
}

// ValidateUniqueChildNames reports an error if meta's children do not
// have pairwise-distinct Name values. This is NOT part of decrypt-time
// validation (a folder that already exists on disk may, in principle,
// carry a legacy collision) -- it is called by the create/rename path
// at the point a new child is about to be added, so duplicate names
// fail at create/rename time, not at decode time.
func ValidateUniqueChildNames(meta cipherbox.FolderMetadata) error {
	const op = "codec.ValidateUniqueChildNames"
	seen := make(map[string]bool, len(meta.Children))
	for _, c := range meta.Children {
		if seen[c.Name] {
			return errors.E(op, errors.Str("duplicate child name: "+c.Name))
		}
		seen[c.Name] = true
	}
	return nil
}

// ValidateDepth reports an error if depth (the depth of a folder about
// to be created, root = 0) exceeds MaxFolderDepth. Like
// ValidateUniqueChildNames, this is a create-time check: a folder tree
// is acyclic and grows strictly by appending a new FolderPointer to an
// existing folder, so the caller creating the new child is the only
// place that knows its depth (parent depth + 1); the codec itself never
// sees more than one folder's own metadata at a time.
func ValidateDepth(depth int) error {
	const op = "codec.ValidateDepth"
	if depth > MaxFolderDepth {
		return errors.E(op, ErrMaxDepthExceeded)
	}
	return nil
}

// ValidateMove reports an error if moving the folder named movingName to
// become a child of a new parent would create a cycle. destAncestors is
// the destination parent's own Name followed by its ancestor chain up to
// the root, walked by the caller -- the codec never sees more than one
// folder's own metadata at a time, so it cannot walk the tree itself.
// A move creates a cycle exactly when movingName already appears in that
// chain, i.e. the folder would become its own ancestor.
func ValidateMove(movingName string, destAncestors []string) error {
	const op = "codec.ValidateMove"
	for _, a := range destAncestors {
		if a == movingName {
			return errors.E(op, errors.Str("move would create a cycle"))
		}
	}
	return nil
}

func seal(plaintext []byte, key *crypto.Secret) (cipherbox.Envelope, error) {
	const op = "codec.seal"
	defer crypto.NewSecret(plaintext).Zero()

	iv, err := crypto.GenerateRandomBytes(crypto.GCMNonceLen)
	if err != nil {
		return cipherbox.Envelope{}, errors.E(op, err)
	}
	ciphertext, err := crypto.AESGCMSeal(plaintext, key.Bytes(), iv)
	if err != nil {
		return cipherbox.Envelope{}, errors.E(op, errors.DecryptionFailed, err)
	}
	return cipherbox.Envelope{
		IV:   crypto.HexEncode(iv),
		Data: crypto.Base64Encode(ciphertext),
	}, nil
}

func open(env cipherbox.Envelope, key *crypto.Secret) ([]byte, error) {
	const op = "codec.open"
	iv, err := crypto.HexDecode(env.IV)
	if err != nil {
		return nil, errors.E(op, err)
	}
	ciphertext, err := crypto.Base64Decode(env.Data)
	if err != nil {
		return nil, errors.E(op, err)
	}
	plaintext, err := crypto.AESGCMOpen(ciphertext, key.Bytes(), iv)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return plaintext, nil
}

func validateFolderMetadata(meta cipherbox.FolderMetadata) error {
	const op = "codec.validateFolderMetadata"
	if meta.Version != cipherbox.FolderMetadataVersion {
		return errors.E(op, errors.Str("unknown folder metadata version"))
	}
	for _, c := range meta.Children {
		if c.ID == "" {
			return errors.E(op, errors.Str("child missing id"))
		}
		if c.Name == "" {
			return errors.E(op, errors.Str("child missing name"))
		}
		switch c.Type {
		case cipherbox.KindFolder:
			if !looksLikeWrappedKey(c.EncWrappedPrivKey) || !looksLikeWrappedKey(c.EncWrappedFolderKey) {
				return errors.E(op, errors.Str("folder pointer has malformed wrapped keys"))
			}
		case cipherbox.KindFile:
			if c.FileMetaName == "" {
				return errors.E(op, errors.Str("file pointer missing fileMetaName"))
			}
		default:
			return errors.E(op, errors.Str("unknown child type"))
		}
	}
	return nil
}

func validateFileMetadata(meta cipherbox.FileMetadata) error {
	const op = "codec.validateFileMetadata"
	if meta.Version != cipherbox.FileMetadataVersion {
		return errors.E(op, errors.Str("unknown file metadata version"))
	}
	if meta.CID == "" {
		return errors.E(op, errors.Str("file metadata missing cid"))
	}
	switch meta.EncryptionMode {
	case cipherbox.ModeGCM, cipherbox.ModeCTR:
	default:
		return errors.E(op, errors.Str("unknown encryption mode"))
	}
	return nil
}

func looksLikeWrappedKey(s string) bool {
	if len(s) < minWrappedHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
