// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inprocess

import (
	"context"
	"encoding/hex"
	"sync"

	"cipherbox.io/cipherbox"
	"cipherbox.io/errors"
)

// Bounds on a hex-encoded ECIES ciphertext field. The ephemeral pubkey
// alone is 65 bytes, so anything under 64 hex chars cannot be a real
// wrap; the ceiling guards against a client stuffing arbitrary blobs
// into a key field.
const (
	minEncryptedKeyHexLen = 64
	maxEncryptedKeyHexLen = 1000
)

func validEncryptedKey(s string) error {
	if len(s) < minEncryptedKeyHexLen || len(s) > maxEncryptedKeyHexLen {
		return errors.Str("encrypted key length out of bounds")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return errors.Str("encrypted key is not hex")
	}
	return nil
}

// ShareStore is an in-memory double of the share-bookkeeping server:
// it stores only ciphertext-bearing Share/ShareKey rows and never
// touches plaintext.
type ShareStore struct {
	mu     sync.Mutex
	clock  cipherbox.Clock
	share  map[string]cipherbox.Share
	keys   map[string][]cipherbox.ShareKey
	hidden map[string]bool
	users  map[string][]byte // identifier -> public key, for LookupUser
}

// NewShareStore returns an empty ShareStore. clock stamps RevokedAt;
// pass time.Now in production.
func NewShareStore(clock cipherbox.Clock) *ShareStore {
	return &ShareStore{
		clock:  clock,
		share:  make(map[string]cipherbox.Share),
		keys:   make(map[string][]cipherbox.ShareKey),
		hidden: make(map[string]bool),
		users:  make(map[string][]byte),
	}
}

// RegisterUser makes identifier resolvable by LookupUser, for tests
// exercising the share engine's recipient lookup.
func (s *ShareStore) RegisterUser(identifier string, pub []byte) {
	s.mu.Lock()
	s.users[identifier] = append([]byte(nil), pub...)
	s.mu.Unlock()
}

// CreateShare stores share and its childKeys. Duplicate active shares
// (same sharer, recipient, Name) are rejected; self-shares are
// rejected by the share engine before it ever calls this method.
func (s *ShareStore) CreateShare(ctx context.Context, share cipherbox.Share, childKeys []cipherbox.ShareKey) error {
	const op = "inprocess.ShareStore.CreateShare"
	if err := validEncryptedKey(share.EncryptedKey); err != nil {
		return errors.E(op, err)
	}
	for _, k := range childKeys {
		if err := validEncryptedKey(k.EncryptedKey); err != nil {
			return errors.E(op, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.share {
		if existing.Active() &&
			string(existing.SharerPub) == string(share.SharerPub) &&
			string(existing.RecipientPub) == string(share.RecipientPub) &&
			existing.IPNSName == share.IPNSName {
			return errors.E(op, errors.Str("duplicate active share"))
		}
	}
	s.share[share.ShareID] = share
	s.keys[share.ShareID] = append([]cipherbox.ShareKey(nil), childKeys...)
	return nil
}

// GetSentShares returns every non-hidden share sharerPub has created,
// active or not.
func (s *ShareStore) GetSentShares(ctx context.Context, sharerPub []byte) ([]cipherbox.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cipherbox.Share
	for _, sh := range s.share {
		if string(sh.SharerPub) == string(sharerPub) && !s.hidden[sh.ShareID] {
			out = append(out, sh)
		}
	}
	return out, nil
}

// GetReceivedShares returns every share addressed to recipientPub.
func (s *ShareStore) GetReceivedShares(ctx context.Context, recipientPub []byte) ([]cipherbox.Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []cipherbox.Share
	for _, sh := range s.share {
		if string(sh.RecipientPub) == string(recipientPub) {
			out = append(out, sh)
		}
	}
	return out, nil
}

// GetShareKeys returns the descendant-key rewraps for shareID.
func (s *ShareStore) GetShareKeys(ctx context.Context, shareID string) ([]cipherbox.ShareKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cipherbox.ShareKey(nil), s.keys[shareID]...), nil
}

// AddShareKeys appends keys to shareID's rewrap set, used for
// post-upload propagation when a new child appears under a shared
// folder.
func (s *ShareStore) AddShareKeys(ctx context.Context, shareID string, keys []cipherbox.ShareKey) error {
	const op = "inprocess.ShareStore.AddShareKeys"
	for _, k := range keys {
		if err := validEncryptedKey(k.EncryptedKey); err != nil {
			return errors.E(op, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[shareID] = append(s.keys[shareID], keys...)
	return nil
}

// UpdateShareEncryptedKey replaces shareID's top-level encryptedKey,
// used after a lazy key rotation re-wraps it for remaining recipients.
func (s *ShareStore) UpdateShareEncryptedKey(ctx context.Context, shareID, encryptedKey string) error {
	const op = "inprocess.ShareStore.UpdateShareEncryptedKey"
	if err := validEncryptedKey(encryptedKey); err != nil {
		return errors.E(op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.share[shareID]
	if !ok {
		return errors.E(op, errors.NameNotFound)
	}
	sh.EncryptedKey = encryptedKey
	s.share[shareID] = sh
	return nil
}

// RevokeShare soft-deletes shareID by setting RevokedAt.
func (s *ShareStore) RevokeShare(ctx context.Context, shareID string) error {
	const op = "inprocess.ShareStore.RevokeShare"
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.share[shareID]
	if !ok {
		return errors.E(op, errors.NameNotFound)
	}
	if sh.RevokedAt == nil {
		now := s.clock().UTC()
		sh.RevokedAt = &now
		s.share[shareID] = sh
	}
	return nil
}

// CompleteRotation hard-deletes a revoked share, called once the
// owning folder's rotation has rewrapped every remaining recipient.
func (s *ShareStore) CompleteRotation(ctx context.Context, shareID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.share, shareID)
	delete(s.keys, shareID)
	delete(s.hidden, shareID)
	return nil
}

// HideShare removes shareID from the sharer's own sent listing without
// revoking the recipient's access.
func (s *ShareStore) HideShare(ctx context.Context, shareID string) error {
	const op = "inprocess.ShareStore.HideShare"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.share[shareID]; !ok {
		return errors.E(op, errors.NameNotFound)
	}
	s.hidden[shareID] = true
	return nil
}

// LookupUser resolves identifier (an email, username, or similar) to a
// public key.
func (s *ShareStore) LookupUser(ctx context.Context, identifier string) ([]byte, error) {
	const op = "inprocess.ShareStore.LookupUser"
	s.mu.Lock()
	defer s.mu.Unlock()
	pub, ok := s.users[identifier]
	if !ok {
		return nil, errors.E(op, errors.NameNotFound)
	}
	return append([]byte(nil), pub...), nil
}
