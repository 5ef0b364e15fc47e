// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inprocess is an in-memory double of the TEE relay: it
// implements transport.TEEClient directly atop a tee.KeyStore and
// additionally exposes DueForRepublish/Republish so tests can simulate
// the TEE's scheduled resign-and-republish loop without a real clock
// or network.
package inprocess

import (
	"context"
	"sync"
	"time"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
	"cipherbox.io/publish"
	"cipherbox.io/tee"
	"cipherbox.io/transport"
)

type enrolledEntry struct {
	wrappedSigningKey []byte
	epoch             string
	lastRepublishedAt time.Time
}

// TEE is an in-memory TEE double: it holds epoch keys, accepts
// enrollments, and can be asked to republish due entries through a
// publish.Coordinator over the same relay the client publishes
// through.
type TEE struct {
	mu      sync.Mutex
	keys    *tee.KeyStore
	entries map[string]enrolledEntry
	relay   transport.Relay
	pub     *publish.Coordinator
	clock   cipherbox.Clock
}

// NewTEE returns a TEE double publishing republished records through
// relay.
func NewTEE(relay transport.Relay, clock cipherbox.Clock) (*TEE, error) {
	const op = "inprocess.NewTEE"
	ks, err := tee.NewKeyStore(clock)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &TEE{
		keys:    ks,
		entries: make(map[string]enrolledEntry),
		relay:   relay,
		pub:     publish.New(relay, clock),
		clock:   clock,
	}, nil
}

// CurrentEpoch implements transport.TEEClient.
func (t *TEE) CurrentEpoch(ctx context.Context) (string, []byte, error) {
	epoch, pub := t.keys.Current()
	return epoch, pub, nil
}

// PreviousEpoch implements transport.TEEClient.
func (t *TEE) PreviousEpoch(ctx context.Context) (string, []byte, error) {
	const op = "inprocess.TEE.PreviousEpoch"
	epoch, pub, ok := t.keys.Previous()
	if !ok {
		return "", nil, errors.E(op, errors.NameNotFound, errors.Str("no previous epoch"))
	}
	return epoch, pub, nil
}

// Enroll implements transport.TEEClient: it records name's wrapped
// signing key for future republish.
func (t *TEE) Enroll(ctx context.Context, name string, encWrappedSigningKey []byte, epoch string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[name] = enrolledEntry{
		wrappedSigningKey: encWrappedSigningKey,
		epoch:             epoch,
		lastRepublishedAt: t.clock(),
	}
	return nil
}

// RotateEpoch advances the TEE's current epoch, simulating the TEE
// rolling its own keypair between a client's enrollments.
func (t *TEE) RotateEpoch() error {
	return t.keys.Rotate()
}

// DueForRepublish returns the Names enrolled with this TEE whose last
// republish is at least tee.RepublishInterval old as of now.
func (t *TEE) DueForRepublish(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var due []string
	for name, e := range t.entries {
		if tee.RepublishDue(e.lastRepublishedAt, now) {
			due = append(due, name)
		}
	}
	return due
}

// Republish resigns and republishes name's record with an incremented
// sequence, using the record's existing CID from the relay. It
// decrypts the enrolled signing key and hands it to the publish
// coordinator, which signs and submits the fresh record; the key is
// zeroed once that publish call returns, not between signing and
// submission.
func (t *TEE) Republish(ctx context.Context, name string) error {
	const op = "inprocess.TEE.Republish"
	t.mu.Lock()
	entry, ok := t.entries[name]
	t.mu.Unlock()
	if !ok {
		return errors.E(op, errors.Name(name), errors.NameNotFound)
	}

	res, err := t.relay.Resolve(ctx, name)
	if err != nil {
		return errors.E(op, errors.Name(name), err)
	}
	if !res.Found {
		return errors.E(op, errors.Name(name), errors.NameNotFound)
	}

	signingKey, err := t.keys.Unwrap(entry.wrappedSigningKey, entry.epoch)
	if err != nil {
		return errors.E(op, errors.Name(name), err)
	}
	pub, err := crypto.Ed25519PublicFromPrivate(signingKey)
	if err != nil {
		signingKey.Zero()
		return errors.E(op, errors.Name(name), err)
	}

	_, err = t.pub.Publish(ctx, publish.Request{
		Name:       name,
		CID:        res.CID,
		SigningKey: signingKey,
		PubKey:     pub,
	})
	signingKey.Zero()
	if err != nil {
		return errors.E(op, errors.Name(name), err)
	}

	t.mu.Lock()
	entry.lastRepublishedAt = t.clock()
	t.entries[name] = entry
	t.mu.Unlock()
	return nil
}

// RewrapDueEntries re-wraps every enrolled signing key still sealed
// under a retired epoch once the grace period has elapsed, so no
// retained entry outlives the previous epoch's key.
func (t *TEE) RewrapDueEntries() (int, error) {
	const op = "inprocess.TEE.RewrapDueEntries"
	if !t.keys.NeedsRewrap() {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var n int
	for name, e := range t.entries {
		fresh, newEpoch, err := t.keys.Rewrap(e.wrappedSigningKey, e.epoch)
		if err != nil {
			return n, errors.E(op, errors.Name(name), err)
		}
		e.wrappedSigningKey = fresh
		e.epoch = newEpoch
		t.entries[name] = e
		n++
	}
	return n, nil
}
