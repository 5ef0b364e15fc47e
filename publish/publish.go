// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package publish guarantees per-Name single-writer and monotonic
// sequence semantics across every local publish path (folder updates,
// file uploads, subfolder creation, batch renames): a fixed array of
// mutexes bucketed by a hash of the Name, paired with a process-wide
// sequence cache that only ever grows.
package publish

import (
	"context"
	"sort"
	"sync"
	"time"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
	"cipherbox.io/ipns"
	"cipherbox.io/transport"
)

// numNameLocks is the size of the per-Name mutex bucket array. Distinct
// Names may collide into the same bucket and serialize unnecessarily;
// a larger table just trades memory for less accidental contention.
const numNameLocks = 100

// maxBatchEntries is the relay's batch-publish ceiling.
const maxBatchEntries = 200

// Request describes one record a caller wants published for a Name.
type Request struct {
	Name                 string
	CID                  string
	SigningKey           *crypto.Secret
	PubKey               []byte
	Kind                 cipherbox.ChildKind
	EncWrappedSigningKey []byte // only needed on first publish (TEE enrollment)
	TEEEpoch             string
}

// cacheEntry holds the last sequence this process observed for a Name.
// Its mere presence in the map is the "initialized" flag: an
// uninitialized cache and a cache holding 0 are different states (the
// latter can never legitimately occur, since sequences start at 1, but
// the distinction matters while nothing has published yet).
type cacheEntry struct {
	sequence uint64
}

// Coordinator enforces per-Name serialization and monotonic sequence
// numbers over a single transport.Relay. One Coordinator should be
// shared by every component of a process that might publish (folder
// updates, file uploads, the registry, TEE enrollment), since the
// sequence cache and name locks are process-wide.
type Coordinator struct {
	relay transport.Relay
	clock cipherbox.Clock

	nameMu [numNameLocks]sync.Mutex

	cacheMu sync.Mutex
	cache   map[string]cacheEntry
}

// New returns a Coordinator publishing through relay. clock is a seam
// for the record's validity window (see cipherbox.Clock); pass
// time.Now in production.
func New(relay transport.Relay, clock cipherbox.Clock) *Coordinator {
	return &Coordinator{
		relay: relay,
		clock: clock,
		cache: make(map[string]cacheEntry),
	}
}

func hashCode(s string) uint64 {
	h := uint64(123479)
	for _, c := range s {
		h = 31*h + uint64(c)
	}
	return h
}

func (c *Coordinator) lockIndex(name string) int {
	return int(hashCode(name) % numNameLocks)
}

func (c *Coordinator) nameLock(name string) *sync.Mutex {
	return &c.nameMu[c.lockIndex(name)]
}

func (c *Coordinator) getCache(name string) (uint64, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	e, ok := c.cache[name]
	return e.sequence, ok
}

func (c *Coordinator) setCache(name string, seq uint64) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.cache[name] = cacheEntry{sequence: seq}
}

// LastKnownSequence returns the cached sequence for name and whether
// the cache has ever been populated for it, for callers (tests, the
// registry debounce) that need to inspect state without publishing.
func (c *Coordinator) LastKnownSequence(name string) (uint64, bool) {
	return c.getCache(name)
}

// nextSequence computes the next sequence for name: if the remote can
// be resolved, seq = max(remote_seq, cached_seq) + 1, treating a
// NAME_NOT_FOUND resolve as remote_seq = 0; if resolve fails outright
// (a transport/network error, not "not found"), seq = cached_seq + 1,
// and if the cache is also uninitialized the publish fails with
// SEQUENCE_UNKNOWN rather than guessing 0.
func (c *Coordinator) nextSequence(ctx context.Context, name string) (uint64, error) {
	const op = "publish.nextSequence"
	cached, initialized := c.getCache(name)

	res, err := c.relay.Resolve(ctx, name)
	if err != nil {
		if !initialized {
			return 0, errors.E(op, errors.Name(name), errors.SequenceUnknown, err)
		}
		return cached + 1, nil
	}

	var remote uint64
	if res.Found {
		remote = res.Sequence
	}
	next := remote
	if initialized && cached > next {
		next = cached
	}
	return next + 1, nil
}

func (c *Coordinator) buildEntry(req Request, seq uint64, now time.Time) (cipherbox.NameRecord, cipherbox.PublishEntry, error) {
	const op = "publish.buildEntry"
	rec, wire, err := ipns.BuildAndSign(req.CID, seq, now, req.SigningKey, req.PubKey)
	if err != nil {
		return cipherbox.NameRecord{}, cipherbox.PublishEntry{}, errors.E(op, errors.Name(req.Name), err)
	}
	entry := cipherbox.PublishEntry{
		Name:                 req.Name,
		Sequence:             seq,
		CID:                  req.CID,
		RecordBytes:          wire,
		EncWrappedSigningKey: req.EncWrappedSigningKey,
		TEEEpoch:             req.TEEEpoch,
		Kind:                 req.Kind,
	}
	return rec, entry, nil
}

// Publish builds, signs, and submits a single name record for req,
// serialized by req.Name's mutex. On success the sequence cache is
// advanced; on any failure (build, network, or relay rejection) the
// cache is left untouched so the next attempt retries at the same
// sequence.
func (c *Coordinator) Publish(ctx context.Context, req Request) (cipherbox.NameRecord, error) {
	const op = "publish.Coordinator.Publish"
	if err := ctx.Err(); err != nil {
		return cipherbox.NameRecord{}, errors.E(op, errors.Name(req.Name), err)
	}

	mu := c.nameLock(req.Name)
	mu.Lock()
	defer mu.Unlock()

	seq, err := c.nextSequence(ctx, req.Name)
	if err != nil {
		return cipherbox.NameRecord{}, errors.E(op, err)
	}

	rec, entry, err := c.buildEntry(req, seq, c.clock())
	if err != nil {
		return cipherbox.NameRecord{}, errors.E(op, err)
	}

	res, err := c.relay.Publish(ctx, entry)
	if err != nil {
		return cipherbox.NameRecord{}, errors.E(op, errors.Name(req.Name), errors.BadGateway, err)
	}
	if !res.Success {
		return cipherbox.NameRecord{}, errors.E(op, errors.Name(req.Name), errors.BadGateway, errors.Str("relay rejected publish"))
	}

	c.setCache(req.Name, seq)
	return rec, nil
}

// BatchPublish submits up to 200 heterogeneous requests (folder and
// file records mixed freely) in a single relay call. Every involved
// Name's mutex is held for the duration, acquired in a fixed bucket
// order so two concurrent batches touching overlapping Names can never
// deadlock against each other. The relay may partially succeed: a
// rejected entry's Name keeps its prior cached sequence so a retry
// reuses the same intended sequence, and the caller must not assume
// any ordering between entries.
func (c *Coordinator) BatchPublish(ctx context.Context, reqs []Request) ([]cipherbox.NameRecord, transport.BatchResult, error) {
	const op = "publish.Coordinator.BatchPublish"
	if len(reqs) == 0 {
		return nil, transport.BatchResult{}, nil
	}
	if len(reqs) > maxBatchEntries {
		return nil, transport.BatchResult{}, errors.E(op, errors.Str("batch exceeds 200 entries"))
	}
	if err := ctx.Err(); err != nil {
		return nil, transport.BatchResult{}, errors.E(op, err)
	}

	locks := c.sortedLockIndexes(reqs)
	for _, idx := range locks {
		c.nameMu[idx].Lock()
	}
	defer func() {
		for _, idx := range locks {
			c.nameMu[idx].Unlock()
		}
	}()

	now := c.clock()
	recs := make([]cipherbox.NameRecord, len(reqs))
	entries := make([]cipherbox.PublishEntry, len(reqs))
	seqs := make([]uint64, len(reqs))
	for i, req := range reqs {
		seq, err := c.nextSequence(ctx, req.Name)
		if err != nil {
			return nil, transport.BatchResult{}, errors.E(op, err)
		}
		rec, entry, err := c.buildEntry(req, seq, now)
		if err != nil {
			return nil, transport.BatchResult{}, errors.E(op, err)
		}
		recs[i] = rec
		entries[i] = entry
		seqs[i] = seq
	}

	batch, err := c.relay.PublishBatch(ctx, entries)
	if err != nil {
		return nil, transport.BatchResult{}, errors.E(op, errors.BadGateway, err)
	}
	for i, res := range batch.Results {
		if res.Success {
			c.setCache(reqs[i].Name, seqs[i])
		}
		// A failed entry leaves its cache untouched; its lock was held
		// for this whole call and is released by the defer above, so
		// the next attempt for that Name retries at the same sequence.
	}
	return recs, batch, nil
}

// sortedLockIndexes returns the distinct lock-bucket indexes reqs
// touch, in ascending order, so BatchPublish always acquires them in a
// globally consistent order regardless of the caller's Name ordering.
func (c *Coordinator) sortedLockIndexes(reqs []Request) []int {
	seen := make(map[int]bool, len(reqs))
	idxs := make([]int, 0, len(reqs))
	for _, r := range reqs {
		i := c.lockIndex(r.Name)
		if !seen[i] {
			seen[i] = true
			idxs = append(idxs, i)
		}
	}
	sort.Ints(idxs)
	return idxs
}
