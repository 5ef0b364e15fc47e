// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inprocess

import (
	"context"
	"sync"

	"cipherbox.io/cipherbox"
	"cipherbox.io/errors"
	"cipherbox.io/ipns"
	"cipherbox.io/transport"
)

// maxBatchEntries is the relay's batch-publish ceiling.
const maxBatchEntries = 200

type relayRecord struct {
	cid         string
	sequence    uint64
	signatureV2 []byte
	data        []byte
	pubKey      []byte
}

// Relay is an in-memory double of the name-routing relay.
type Relay struct {
	mu      sync.Mutex
	records map[string]relayRecord

	// ShouldFail, if set, lets tests simulate a relay that rejects a
	// specific entry (to exercise the publish coordinator's partial
	// batch-failure handling) without touching the stored record.
	ShouldFail func(name string) bool
}

// NewRelay returns an empty Relay.
func NewRelay() *Relay {
	return &Relay{records: make(map[string]relayRecord)}
}

// Publish stores entry's record and returns success.
func (r *Relay) Publish(ctx context.Context, entry cipherbox.PublishEntry) (transport.PublishResult, error) {
	const op = "inprocess.Relay.Publish"
	if r.ShouldFail != nil && r.ShouldFail(entry.Name) {
		return transport.PublishResult{Success: false}, nil
	}
	rec, err := ipns.Unmarshal(entry.RecordBytes)
	if err != nil {
		return transport.PublishResult{}, errors.E(op, err)
	}
	r.mu.Lock()
	r.records[entry.Name] = relayRecord{
		cid:         entry.CID,
		sequence:    entry.Sequence,
		signatureV2: rec.SignatureV2,
		data:        rec.Data,
		pubKey:      rec.PubKey,
	}
	r.mu.Unlock()
	return transport.PublishResult{Success: true, Sequence: entry.Sequence}, nil
}

// PublishBatch publishes up to maxBatchEntries heterogeneous entries,
// returning a per-entry result. A rejected entry does not stop the
// rest of the batch from being attempted.
func (r *Relay) PublishBatch(ctx context.Context, entries []cipherbox.PublishEntry) (transport.BatchResult, error) {
	const op = "inprocess.Relay.PublishBatch"
	if len(entries) > maxBatchEntries {
		return transport.BatchResult{}, errors.E(op, errors.Str("batch exceeds 200 entries"))
	}
	results := make([]transport.PublishResult, len(entries))
	var succeeded, failed int
	for i, e := range entries {
		res, err := r.Publish(ctx, e)
		if err != nil || !res.Success {
			failed++
			results[i] = transport.PublishResult{Success: false}
			continue
		}
		succeeded++
		results[i] = res
	}
	return transport.BatchResult{Results: results, TotalSucceeded: succeeded, TotalFailed: failed}, nil
}

// Resolve returns the last-published record for name, if any.
func (r *Relay) Resolve(ctx context.Context, name string) (transport.ResolveResult, error) {
	r.mu.Lock()
	rec, ok := r.records[name]
	r.mu.Unlock()
	if !ok {
		return transport.ResolveResult{Found: false}, nil
	}
	return transport.ResolveResult{
		Found:       true,
		CID:         rec.cid,
		Sequence:    rec.sequence,
		SignatureV2: rec.signatureV2,
		Data:        rec.data,
		PubKey:      rec.pubKey,
	}, nil
}
