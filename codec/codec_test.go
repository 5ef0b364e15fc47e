// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package codec

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
)

func testFolderKey(t *testing.T) *crypto.Secret {
	b, err := crypto.GenerateRandomBytes(crypto.AESKeyLen)
	require.NoError(t, err)
	return crypto.NewSecret(b)
}

func wrappedKeyFixture() string {
	b := make([]byte, 65)
	return crypto.HexEncode(b)
}

func TestEncryptDecryptFolderMetadataRoundTrip(t *testing.T) {
	key := testFolderKey(t)
	now := time.Now().UTC().Truncate(time.Second)

	meta := cipherbox.FolderMetadata{
		Version: cipherbox.FolderMetadataVersion,
		Children: []cipherbox.FolderChild{
			{
				Type:                cipherbox.KindFolder,
				ID:                  uuid.NewString(),
				Name:                "photos",
				ChildName:           "b-some-name",
				EncWrappedPrivKey:   wrappedKeyFixture(),
				EncWrappedFolderKey: wrappedKeyFixture(),
				CreatedAt:           now,
				ModifiedAt:          now,
			},
			{
				Type:         cipherbox.KindFile,
				ID:           uuid.NewString(),
				Name:         "notes.txt",
				FileMetaName: "bafzaaifakefilemetaname",
				CreatedAt:    now,
				ModifiedAt:   now,
			},
		},
	}

	env, err := EncryptFolderMetadata(meta, key)
	require.NoError(t, err)

	got, err := DecryptFolderMetadata(env, key)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestDecryptFolderMetadataRejectsWrongKey(t *testing.T) {
	key := testFolderKey(t)
	other := testFolderKey(t)
	meta := cipherbox.FolderMetadata{Version: cipherbox.FolderMetadataVersion}

	env, err := EncryptFolderMetadata(meta, key)
	require.NoError(t, err)

	_, err = DecryptFolderMetadata(env, other)
	require.Error(t, err)
}

func TestDecryptFolderMetadataRejectsUnknownVersion(t *testing.T) {
	key := testFolderKey(t)
	meta := cipherbox.FolderMetadata{Version: "v99"}

	env, err := EncryptFolderMetadata(meta, key)
	require.NoError(t, err)

	_, err = DecryptFolderMetadata(env, key)
	require.Error(t, err)
}

func TestDecryptFolderMetadataRejectsShortWrappedKey(t *testing.T) {
	key := testFolderKey(t)
	meta := cipherbox.FolderMetadata{
		Version: cipherbox.FolderMetadataVersion,
		Children: []cipherbox.FolderChild{
			{
				Type:                cipherbox.KindFolder,
				ID:                  uuid.NewString(),
				Name:                "x",
				EncWrappedPrivKey:   "deadbeef",
				EncWrappedFolderKey: wrappedKeyFixture(),
			},
		},
	}

	env, err := EncryptFolderMetadata(meta, key)
	require.NoError(t, err)

	_, err = DecryptFolderMetadata(env, key)
	require.Error(t, err)
}

func TestEmptyFolderRoundTrip(t *testing.T) {
	key := testFolderKey(t)
	meta := cipherbox.FolderMetadata{Version: cipherbox.FolderMetadataVersion, Children: []cipherbox.FolderChild{}}

	env, err := EncryptFolderMetadata(meta, key)
	require.NoError(t, err)

	got, err := DecryptFolderMetadata(env, key)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestEncryptDecryptFileMetadataRoundTrip(t *testing.T) {
	key := testFolderKey(t)
	now := time.Now().UTC().Truncate(time.Second)
	meta := cipherbox.FileMetadata{
		Version:          cipherbox.FileMetadataVersion,
		CID:              "bafybeigfake",
		FileKeyEncrypted: wrappedKeyFixture(),
		FileIV:           "deadbeef",
		Size:             1024,
		MimeType:         "text/plain",
		EncryptionMode:   cipherbox.ModeGCM,
		CreatedAt:        now,
		ModifiedAt:       now,
	}

	env, err := EncryptFileMetadata(meta, key)
	require.NoError(t, err)

	got, err := DecryptFileMetadata(env, key)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestDecryptFileMetadataRejectsUnknownEncryptionMode(t *testing.T) {
	key := testFolderKey(t)
	meta := cipherbox.FileMetadata{Version: cipherbox.FileMetadataVersion, CID: "x", EncryptionMode: "ROT13"}

	env, err := EncryptFileMetadata(meta, key)
	require.NoError(t, err)

	_, err = DecryptFileMetadata(env, key)
	require.Error(t, err)
}

func TestValidateUniqueChildNamesRejectsDuplicates(t *testing.T) {
	meta := cipherbox.FolderMetadata{
		Children: []cipherbox.FolderChild{
			{Name: "a"},
			{Name: "a"},
		},
	}
	require.Error(t, ValidateUniqueChildNames(meta))
}

func TestValidateUniqueChildNamesAcceptsDistinct(t *testing.T) {
	meta := cipherbox.FolderMetadata{
		Children: []cipherbox.FolderChild{
			{Name: "a"},
			{Name: "b"},
		},
	}
	require.NoError(t, ValidateUniqueChildNames(meta))
}

func TestValidateDepthAcceptsMaximum(t *testing.T) {
	require.NoError(t, ValidateDepth(MaxFolderDepth))
}

func TestValidateDepthRejectsBeyondMaximum(t *testing.T) {
	err := ValidateDepth(MaxFolderDepth + 1)
	require.Error(t, err)
	e, ok := err.(*errors.Error)
	require.True(t, ok)
	require.Equal(t, ErrMaxDepthExceeded, e.Err)
}

func TestValidateMoveAcceptsNonCyclicDestination(t *testing.T) {
	require.NoError(t, ValidateMove("b-folder-being-moved", []string{"b-dest-parent", "b-dest-grandparent", "b-root"}))
}

func TestValidateMoveRejectsMoveUnderItself(t *testing.T) {
	err := ValidateMove("b-folder-being-moved", []string{"b-some-cousin", "b-folder-being-moved", "b-root"})
	require.Error(t, err)
	_, ok := err.(*errors.Error)
	require.True(t, ok)
}

func TestValidateMoveRejectsMoveOntoSelf(t *testing.T) {
	err := ValidateMove("b-folder-being-moved", []string{"b-folder-being-moved"})
	require.Error(t, err)
}
