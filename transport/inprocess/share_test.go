// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inprocess

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbox.io/cipherbox"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func validKeyFixture() string {
	return strings.Repeat("ab", 100) // 200 hex chars, within bounds
}

func testShare(id string) cipherbox.Share {
	return cipherbox.Share{
		ShareID:      id,
		SharerPub:    []byte("sharer"),
		RecipientPub: []byte("recipient"),
		ItemType:     cipherbox.KindFolder,
		IPNSName:     "name-a",
		EncryptedKey: validKeyFixture(),
	}
}

func TestCreateShareRejectsShortEncryptedKey(t *testing.T) {
	s := NewShareStore(fixedClock)
	sh := testShare("share-1")
	sh.EncryptedKey = "deadbeef"
	require.Error(t, s.CreateShare(context.Background(), sh, nil))
}

func TestCreateShareRejectsNonHexEncryptedKey(t *testing.T) {
	s := NewShareStore(fixedClock)
	sh := testShare("share-1")
	sh.EncryptedKey = strings.Repeat("zz", 50)
	require.Error(t, s.CreateShare(context.Background(), sh, nil))
}

func TestCreateShareRejectsOversizedEncryptedKey(t *testing.T) {
	s := NewShareStore(fixedClock)
	sh := testShare("share-1")
	sh.EncryptedKey = strings.Repeat("ab", 501)
	require.Error(t, s.CreateShare(context.Background(), sh, nil))
}

func TestAddShareKeysRejectsMalformedKey(t *testing.T) {
	s := NewShareStore(fixedClock)
	require.NoError(t, s.CreateShare(context.Background(), testShare("share-1"), nil))

	bad := cipherbox.ShareKey{ShareID: "share-1", ItemType: cipherbox.KindFile, ItemID: "f", EncryptedKey: "nope"}
	require.Error(t, s.AddShareKeys(context.Background(), "share-1", []cipherbox.ShareKey{bad}))
}

func TestHideShareRemovesFromSentButNotReceived(t *testing.T) {
	ctx := context.Background()
	s := NewShareStore(fixedClock)
	require.NoError(t, s.CreateShare(ctx, testShare("share-1"), nil))

	require.NoError(t, s.HideShare(ctx, "share-1"))

	sent, err := s.GetSentShares(ctx, []byte("sharer"))
	require.NoError(t, err)
	assert.Empty(t, sent, "a hidden share must leave the sharer's listing")

	received, err := s.GetReceivedShares(ctx, []byte("recipient"))
	require.NoError(t, err)
	assert.Len(t, received, 1, "hiding must not revoke the recipient's access")
}

func TestDuplicateActiveShareRejected(t *testing.T) {
	ctx := context.Background()
	s := NewShareStore(fixedClock)
	require.NoError(t, s.CreateShare(ctx, testShare("share-1"), nil))
	require.Error(t, s.CreateShare(ctx, testShare("share-2"), nil))
}

func TestDuplicateAllowedAfterRevoke(t *testing.T) {
	ctx := context.Background()
	s := NewShareStore(fixedClock)
	require.NoError(t, s.CreateShare(ctx, testShare("share-1"), nil))
	require.NoError(t, s.RevokeShare(ctx, "share-1"))

	received, err := s.GetReceivedShares(ctx, []byte("recipient"))
	require.NoError(t, err)
	require.Len(t, received, 1)
	require.NotNil(t, received[0].RevokedAt)
	assert.Equal(t, fixedClock().UTC(), *received[0].RevokedAt, "RevokedAt comes from the store's clock")

	require.NoError(t, s.CreateShare(ctx, testShare("share-2"), nil))
}
