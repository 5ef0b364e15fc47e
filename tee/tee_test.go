// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tee

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbox.io/crypto"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func movableClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestKeyStoreUnwrapsUnderCurrentEpoch(t *testing.T) {
	ks, err := NewKeyStore(fixedClock)
	require.NoError(t, err)

	_, pub := ks.Current()
	plain := []byte("0123456789abcdef0123456789abcdef")
	wrapped, err := crypto.WrapKey(plain, pub)
	require.NoError(t, err)

	epoch, _ := ks.Current()
	got, err := ks.Unwrap(wrapped, epoch)
	require.NoError(t, err)
	assert.Equal(t, plain, got.Bytes())
}

func TestKeyStoreFallsBackToPreviousEpochAfterRotate(t *testing.T) {
	ks, err := NewKeyStore(fixedClock)
	require.NoError(t, err)

	oldEpoch, oldPub := ks.Current()
	plain := []byte("0123456789abcdef0123456789abcdef")
	wrapped, err := crypto.WrapKey(plain, oldPub)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	newEpoch, _ := ks.Current()
	assert.NotEqual(t, oldEpoch, newEpoch)

	got, err := ks.Unwrap(wrapped, oldEpoch)
	require.NoError(t, err)
	assert.Equal(t, plain, got.Bytes())

	prevEpoch, _, ok := ks.Previous()
	require.True(t, ok)
	assert.Equal(t, oldEpoch, prevEpoch)
}

func TestKeyStoreUnwrapFailureIsGeneric(t *testing.T) {
	ks, err := NewKeyStore(fixedClock)
	require.NoError(t, err)

	_, err1 := ks.Unwrap([]byte("not even ciphertext"), "epoch-1")
	require.Error(t, err1)

	_, err2 := ks.Unwrap([]byte("not even ciphertext"), "unknown-epoch")
	require.Error(t, err2)

	assert.Equal(t, err1.Error(), err2.Error(), "wrong-key and unknown-epoch failures must be indistinguishable")
}

func TestKeyStoreDiscardsOldPreviousOnSecondRotate(t *testing.T) {
	ks, err := NewKeyStore(fixedClock)
	require.NoError(t, err)

	epoch1, pub1 := ks.Current()
	plain := []byte("0123456789abcdef0123456789abcdef")
	wrapped, err := crypto.WrapKey(plain, pub1)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())
	require.NoError(t, ks.Rotate())

	_, err = ks.Unwrap(wrapped, epoch1)
	require.Error(t, err, "an epoch two rotations back must no longer decrypt")
}

func TestKeyStoreNeedsRewrapAfterGracePeriod(t *testing.T) {
	clock, advance := movableClock(fixedClock())
	ks, err := NewKeyStore(clock)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())
	assert.False(t, ks.NeedsRewrap())

	advance(GracePeriod + time.Hour)
	assert.True(t, ks.NeedsRewrap())
}

func TestKeyStoreRewrapMovesCiphertextToCurrentEpoch(t *testing.T) {
	ks, err := NewKeyStore(fixedClock)
	require.NoError(t, err)

	oldEpoch, oldPub := ks.Current()
	plain := []byte("0123456789abcdef0123456789abcdef")
	wrapped, err := crypto.WrapKey(plain, oldPub)
	require.NoError(t, err)

	require.NoError(t, ks.Rotate())

	fresh, newEpoch, err := ks.Rewrap(wrapped, oldEpoch)
	require.NoError(t, err)
	curEpoch, _ := ks.Current()
	assert.Equal(t, curEpoch, newEpoch)

	got, err := ks.Unwrap(fresh, newEpoch)
	require.NoError(t, err)
	assert.Equal(t, plain, got.Bytes())
}

type fakeTEEClient struct {
	epoch string
	pub   []byte

	enrolledName    string
	enrolledWrapped []byte
	enrolledEpoch   string
}

func (f *fakeTEEClient) CurrentEpoch(ctx context.Context) (string, []byte, error) {
	return f.epoch, f.pub, nil
}

func (f *fakeTEEClient) PreviousEpoch(ctx context.Context) (string, []byte, error) {
	return "", nil, nil
}

func (f *fakeTEEClient) Enroll(ctx context.Context, name string, encWrappedSigningKey []byte, epoch string) error {
	f.enrolledName = name
	f.enrolledWrapped = encWrappedSigningKey
	f.enrolledEpoch = epoch
	return nil
}

func TestEnrollerWrapsAndSubmits(t *testing.T) {
	ks, err := NewKeyStore(fixedClock)
	require.NoError(t, err)
	epoch, pub := ks.Current()
	client := &fakeTEEClient{epoch: epoch, pub: pub}
	en := NewEnroller(client)

	signingKey, signingPub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	defer signingKey.Zero()

	wrapped, gotEpoch, err := en.Enroll(context.Background(), "name-a", signingKey)
	require.NoError(t, err)
	assert.Equal(t, epoch, gotEpoch)
	assert.Equal(t, "name-a", client.enrolledName)
	assert.Equal(t, wrapped, client.enrolledWrapped)

	decrypted, err := ks.Unwrap(wrapped, gotEpoch)
	require.NoError(t, err)
	gotPub, err := crypto.Ed25519PublicFromPrivate(decrypted)
	require.NoError(t, err)
	assert.Equal(t, signingPub, gotPub)
}

func TestRepublishDue(t *testing.T) {
	now := fixedClock()
	assert.False(t, RepublishDue(now, now.Add(time.Hour)))
	assert.True(t, RepublishDue(now, now.Add(RepublishInterval)))
}
