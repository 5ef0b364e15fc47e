// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbox.io/crypto"
	"cipherbox.io/ipns"
	"cipherbox.io/transport"
	"cipherbox.io/transport/inprocess"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func testRequest(t *testing.T, name, cid string) Request {
	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	t.Cleanup(priv.Zero)
	return Request{Name: name, CID: cid, SigningKey: priv, PubKey: pub}
}

func TestPublishFirstSequenceIsOne(t *testing.T) {
	relay := inprocess.NewRelay()
	c := New(relay, fixedClock)

	rec, err := c.Publish(context.Background(), testRequest(t, "name-a", "cid-1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)

	seq, ok := c.LastKnownSequence("name-a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), seq)
}

func TestPublishSequenceMonotonicallyIncreases(t *testing.T) {
	relay := inprocess.NewRelay()
	c := New(relay, fixedClock)
	ctx := context.Background()

	req := testRequest(t, "name-a", "cid-1")
	_, err := c.Publish(ctx, req)
	require.NoError(t, err)

	req2 := req
	req2.CID = "cid-2"
	rec2, err := c.Publish(ctx, req2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec2.Sequence)
}

func TestPublishNeverResetsBelowCache(t *testing.T) {
	// Once a successful publish has initialized the cache, a relay whose
	// Resolve fails outright (simulating an unreachable service, not
	// NOT_FOUND) must never cause sequence to regress.
	relay := &resolveFailingRelay{Relay: inprocess.NewRelay(), resolveOK: true}
	c := New(relay, fixedClock)
	ctx := context.Background()

	req := testRequest(t, "name-a", "cid-1")
	rec, err := c.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)

	relay.resolveOK = false
	req2 := req
	req2.CID = "cid-2"
	rec2, err := c.Publish(ctx, req2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec2.Sequence)
}

func TestPublishFailsWithSequenceUnknownWhenUninitializedAndResolveFails(t *testing.T) {
	relay := &resolveFailingRelay{Relay: inprocess.NewRelay()}
	c := New(relay, fixedClock)

	_, err := c.Publish(context.Background(), testRequest(t, "name-a", "cid-1"))
	require.Error(t, err)
}

func TestPublishFailureLeavesCacheUnchanged(t *testing.T) {
	relay := inprocess.NewRelay()
	c := New(relay, fixedClock)
	ctx := context.Background()

	req := testRequest(t, "name-a", "cid-1")
	_, err := c.Publish(ctx, req)
	require.NoError(t, err)

	relay.ShouldFail = func(name string) bool { return name == "name-a" }
	req2 := req
	req2.CID = "cid-2"
	_, err = c.Publish(ctx, req2)
	require.Error(t, err)

	seq, ok := c.LastKnownSequence("name-a")
	require.True(t, ok)
	assert.Equal(t, uint64(1), seq, "a rejected publish must not advance the cache")
}

func TestPublishIsSignedAndVerifiable(t *testing.T) {
	relay := inprocess.NewRelay()
	c := New(relay, fixedClock)

	req := testRequest(t, "name-a", "cid-1")
	rec, err := c.Publish(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, ipns.Verify(rec))
}

func TestConcurrentPublishesOnOneNameSerialize(t *testing.T) {
	relay := inprocess.NewRelay()
	c := New(relay, fixedClock)
	ctx := context.Background()

	req := testRequest(t, "name-a", "cid-0")
	_, err := c.Publish(ctx, req)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	seqs := make([]uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := req
			rec, err := c.Publish(ctx, r)
			if err == nil {
				seqs[i] = rec.Sequence
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]int)
	for _, s := range seqs {
		seen[s]++
	}
	for seq, count := range seen {
		assert.Equal(t, 1, count, "sequence %d must not be produced twice", seq)
	}
}

func TestBatchPublishRejectsOversizedBatch(t *testing.T) {
	relay := inprocess.NewRelay()
	c := New(relay, fixedClock)

	reqs := make([]Request, maxBatchEntries+1)
	for i := range reqs {
		reqs[i] = testRequest(t, "name", "cid")
	}
	_, _, err := c.BatchPublish(context.Background(), reqs)
	require.Error(t, err)
}

func TestBatchPublishPartialFailureLeavesFailedCacheUnchanged(t *testing.T) {
	relay := inprocess.NewRelay()
	c := New(relay, fixedClock)
	ctx := context.Background()

	reqA := testRequest(t, "name-a", "cid-1")
	reqB := testRequest(t, "name-b", "cid-1")
	_, batch, err := c.BatchPublish(ctx, []Request{reqA, reqB})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.TotalSucceeded)

	relay.ShouldFail = func(name string) bool { return name == "name-a" }
	reqA2 := reqA
	reqA2.CID = "cid-2"
	reqB2 := reqB
	reqB2.CID = "cid-2"
	_, batch2, err := c.BatchPublish(ctx, []Request{reqA2, reqB2})
	require.NoError(t, err)
	assert.Equal(t, 1, batch2.TotalFailed)
	assert.Equal(t, 1, batch2.TotalSucceeded)

	seqA, _ := c.LastKnownSequence("name-a")
	assert.Equal(t, uint64(1), seqA, "failed entry must keep its prior cached sequence")
	seqB, _ := c.LastKnownSequence("name-b")
	assert.Equal(t, uint64(2), seqB)
}

// resolveFailingRelay wraps an inprocess.Relay but simulates Resolve
// failing outright (a transport error), as distinct from a successful
// resolve that simply finds nothing. While resolveOK is set, Resolve
// passes through to the wrapped relay instead.
type resolveFailingRelay struct {
	*inprocess.Relay
	resolveOK bool
}

func (r *resolveFailingRelay) Resolve(ctx context.Context, name string) (transport.ResolveResult, error) {
	if r.resolveOK {
		return r.Relay.Resolve(ctx, name)
	}
	return transport.ResolveResult{}, assertErr
}

var assertErr = errTransportUnreachable{}

type errTransportUnreachable struct{}

func (errTransportUnreachable) Error() string { return "simulated relay unreachable" }
