// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inprocess

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbox.io/crypto"
	"cipherbox.io/log"
	"cipherbox.io/publish"
	"cipherbox.io/tee"
	"cipherbox.io/transport/inprocess"
)

func movableClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestEnrollThenRepublishAdvancesSequence(t *testing.T) {
	clock, advance := movableClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	relay := inprocess.NewRelay()
	teeDouble, err := NewTEE(relay, clock)
	require.NoError(t, err)

	signingKey, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	defer signingKey.Zero()

	en := tee.NewEnroller(teeDouble)
	_, _, err = en.Enroll(context.Background(), "name-a", signingKey)
	require.NoError(t, err)

	pc := publish.New(relay, clock)
	rec, err := pc.Publish(context.Background(), publish.Request{Name: "name-a", CID: "cid-1", SigningKey: signingKey, PubKey: pub})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)

	advance(tee.RepublishInterval + time.Minute)
	due := teeDouble.DueForRepublish(clock())
	require.Contains(t, due, "name-a")

	require.NoError(t, teeDouble.Republish(context.Background(), "name-a"))

	res, err := relay.Resolve(context.Background(), "name-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.Sequence)
	assert.Equal(t, "cid-1", res.CID, "republish must preserve the existing CID")
}

func TestRepublishFailsForUnenrolledName(t *testing.T) {
	relay := inprocess.NewRelay()
	teeDouble, err := NewTEE(relay, func() time.Time { return time.Now() })
	require.NoError(t, err)

	err = teeDouble.Republish(context.Background(), "ghost")
	require.Error(t, err)
}

func TestRewrapDueEntriesMovesEnrollmentToNewEpoch(t *testing.T) {
	clock, advance := movableClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	relay := inprocess.NewRelay()
	teeDouble, err := NewTEE(relay, clock)
	require.NoError(t, err)

	signingKey, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	defer signingKey.Zero()

	en := tee.NewEnroller(teeDouble)
	_, oldEpoch, err := en.Enroll(context.Background(), "name-a", signingKey)
	require.NoError(t, err)

	pc := publish.New(relay, clock)
	_, err = pc.Publish(context.Background(), publish.Request{Name: "name-a", CID: "cid-1", SigningKey: signingKey, PubKey: pub})
	require.NoError(t, err)

	require.NoError(t, teeDouble.RotateEpoch())
	advance(tee.GracePeriod + time.Hour)

	n, err := teeDouble.RewrapDueEntries()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, teeDouble.Republish(context.Background(), "name-a"))
	curEpoch, _ := teeDouble.keys.Current()
	assert.Equal(t, curEpoch, teeDouble.entries["name-a"].epoch, "the enrollment should now be sealed under the current epoch")
	prevEpoch, _, _ := teeDouble.keys.Previous()
	assert.Equal(t, oldEpoch, prevEpoch, "old epoch should now be the retired previous epoch")
}

func TestAuditLogBuffersAndFlushes(t *testing.T) {
	var out bytes.Buffer
	audit := NewAuditLog(&out)

	audit.Log(log.InfoLevel, "first entry")
	audit.Log(log.ErrorLevel, "second entry")
	require.Len(t, audit.Lines(), 2)
	assert.Equal(t, "info: first entry", audit.Lines()[0])
	assert.Empty(t, out.String(), "nothing reaches the writer before Flush")

	audit.Flush()
	assert.Empty(t, audit.Lines())
	assert.Equal(t, "info: first entry\nerror: second entry\n", out.String())
}
