// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry manages a user's multi-device registry:
// the sealed, versioned list of devices authorized to hold the
// root secret, published under the registry IPNS Name keyderiv derives
// per (root secret, environment). It debounces heartbeat-only
// mutations within a trailing window so a device merely checking in
// does not spend a sequence number and a publish round-trip every
// time.
package registry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
	"cipherbox.io/publish"
	"cipherbox.io/transport"
)

// HeartbeatDebounceWindow is the trailing window within which a
// heartbeat-only mutation is coalesced into the previous publish
// rather than triggering a new one.
const HeartbeatDebounceWindow = 5 * time.Minute

// RegistryVersion is the only DeviceRegistry version this module
// produces or accepts.
const RegistryVersion = "v1"

// Sync holds one user's in-memory registry state and decides whether a
// pending mutation is eligible for its own publish or should be
// coalesced into the next one.
type Sync struct {
	mu    sync.Mutex
	clock cipherbox.Clock

	reg             cipherbox.DeviceRegistry
	hasPublished    bool
	lastPublishedAt time.Time

	pendingStructural bool
	pendingHeartbeat  bool
}

// New returns an empty Sync (no devices, sequence 0, never published).
func New(clock cipherbox.Clock) *Sync {
	return &Sync{clock: clock, reg: cipherbox.DeviceRegistry{Version: RegistryVersion}}
}

// Load seeds Sync's state from a registry already retrieved and
// decrypted from the network (see Open), for startup before any local
// mutation.
func (s *Sync) Load(reg cipherbox.DeviceRegistry, publishedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg = reg
	s.lastPublishedAt = publishedAt
	s.hasPublished = true
	s.pendingStructural = false
	s.pendingHeartbeat = false
}

// Snapshot returns a copy of the current in-memory registry.
func (s *Sync) Snapshot() cipherbox.DeviceRegistry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRegistry(s.reg)
}

func cloneRegistry(r cipherbox.DeviceRegistry) cipherbox.DeviceRegistry {
	out := r
	out.Devices = append([]cipherbox.DeviceEntry(nil), r.Devices...)
	return out
}

func (s *Sync) indexOf(deviceID string) int {
	for i, d := range s.reg.Devices {
		if d.DeviceID == deviceID {
			return i
		}
	}
	return -1
}

// UpsertDevice adds deviceID or replaces its entry wholesale (status,
// platform included). This is a structural change: it is never
// debounced, so a newly authorized or revoked device takes effect on
// the very next publish.
func (s *Sync) UpsertDevice(entry cipherbox.DeviceEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(entry.DeviceID); i >= 0 {
		s.reg.Devices[i] = entry
	} else {
		s.reg.Devices = append(s.reg.Devices, entry)
	}
	s.pendingStructural = true
}

// RevokeDevice marks deviceID revoked, a structural change.
func (s *Sync) RevokeDevice(deviceID string) error {
	const op = "registry.Sync.RevokeDevice"
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(deviceID)
	if i < 0 {
		return errors.E(op, errors.NameNotFound, errors.Str("device not registered"))
	}
	s.reg.Devices[i].Status = cipherbox.DeviceRevoked
	s.pendingStructural = true
	return nil
}

// Heartbeat updates deviceID's LastSeenAt only. It is a debounceable
// change: if nothing structural is also pending, it will not by itself
// force a publish before HeartbeatDebounceWindow has elapsed since the
// last one.
func (s *Sync) Heartbeat(deviceID string, now time.Time) error {
	const op = "registry.Sync.Heartbeat"
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(deviceID)
	if i < 0 {
		return errors.E(op, errors.NameNotFound, errors.Str("device not registered"))
	}
	s.reg.Devices[i].LastSeenAt = now
	if !s.pendingStructural {
		s.pendingHeartbeat = true
	}
	return nil
}

// Due reports whether the pending mutation (if any) should result in
// an actual publish at now: a structural change is always due; a
// heartbeat-only change is due only once HeartbeatDebounceWindow has
// elapsed since the last publish (or if there has never been one).
func (s *Sync) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingStructural {
		return true
	}
	if !s.pendingHeartbeat {
		return false
	}
	if !s.hasPublished {
		return true
	}
	return now.Sub(s.lastPublishedAt) >= HeartbeatDebounceWindow
}

// Seal serializes a preview of the registry with its sequence
// incremented by one from the last committed value, and ECIES-seals it
// under ownerPub. It does not mutate Sync's committed state; call
// MarkPublished with the returned registry once the publish actually
// succeeds.
func (s *Sync) Seal(ownerPub []byte) ([]byte, cipherbox.DeviceRegistry, error) {
	const op = "registry.Sync.Seal"
	s.mu.Lock()
	next := cloneRegistry(s.reg)
	s.mu.Unlock()

	next.Sequence++
	data, err := json.Marshal(next)
	if err != nil {
		return nil, cipherbox.DeviceRegistry{}, errors.E(op, err)
	}
	sealed, err := crypto.WrapKey(data, ownerPub)
	if err != nil {
		return nil, cipherbox.DeviceRegistry{}, errors.E(op, err)
	}
	return sealed, next, nil
}

// MarkPublished commits published (as returned by Seal) as the new
// committed state and clears the pending-mutation flags.
func (s *Sync) MarkPublished(published cipherbox.DeviceRegistry, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reg = cloneRegistry(published)
	s.lastPublishedAt = now
	s.hasPublished = true
	s.pendingStructural = false
	s.pendingHeartbeat = false
}

// Open decrypts and parses a registry envelope retrieved from the
// network, the inverse of Seal.
func Open(sealed []byte, ownerPriv *crypto.Secret) (cipherbox.DeviceRegistry, error) {
	const op = "registry.Open"
	data, err := crypto.UnwrapKey(sealed, ownerPriv)
	if err != nil {
		return cipherbox.DeviceRegistry{}, errors.E(op, err)
	}
	var reg cipherbox.DeviceRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return cipherbox.DeviceRegistry{}, errors.E(op, err)
	}
	if reg.Version != RegistryVersion {
		return cipherbox.DeviceRegistry{}, errors.E(op, errors.Str("unsupported registry version"))
	}
	return reg, nil
}

// Publisher composes a Sync with the object store and publish
// coordinator needed to actually commit a due mutation: seal the
// registry, store the sealed envelope as a content-addressed blob, and
// publish a fresh name record pointing at it.
type Publisher struct {
	sync  *Sync
	store transport.ObjectStore
	pub   *publish.Coordinator
	clock cipherbox.Clock
}

// NewPublisher returns a Publisher for sync, storing blobs in store and
// publishing records through pub.
func NewPublisher(sync *Sync, store transport.ObjectStore, pub *publish.Coordinator, clock cipherbox.Clock) *Publisher {
	return &Publisher{sync: sync, store: store, pub: pub, clock: clock}
}

// PublishIfDue publishes the registry under name if a pending mutation
// is Due at the current time; it returns published=false without error
// if the mutation was debounced.
func (p *Publisher) PublishIfDue(ctx context.Context, name string, ownerPub []byte, signingKey *crypto.Secret, signingPub []byte) (published bool, rec cipherbox.NameRecord, err error) {
	const op = "registry.Publisher.PublishIfDue"
	now := p.clock()
	if !p.sync.Due(now) {
		return false, cipherbox.NameRecord{}, nil
	}

	sealed, next, err := p.sync.Seal(ownerPub)
	if err != nil {
		return false, cipherbox.NameRecord{}, errors.E(op, errors.Name(name), err)
	}
	cid, err := p.store.Add(ctx, sealed)
	if err != nil {
		return false, cipherbox.NameRecord{}, errors.E(op, errors.Name(name), err)
	}
	rec, err = p.pub.Publish(ctx, publish.Request{Name: name, CID: cid, SigningKey: signingKey, PubKey: signingPub})
	if err != nil {
		return false, cipherbox.NameRecord{}, errors.E(op, errors.Name(name), err)
	}
	p.sync.MarkPublished(next, now)
	return true, rec, nil
}
