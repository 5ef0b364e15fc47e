// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package inprocess implements non-persistent, in-memory doubles of
// CipherBox's external collaborators, giving the rest of the tree
// something real to run against without a server.
package inprocess

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"cipherbox.io/errors"
)

// Store is a simple content-addressed blob store keyed by the SHA-256
// hash of the stored bytes, so identical bytes always map to the same
// CID.
type Store struct {
	mu   sync.Mutex
	blob map[string][]byte
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{blob: make(map[string][]byte)}
}

// Add stores data and returns its content address.
func (s *Store) Add(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	cid := "bafy" + hex.EncodeToString(sum[:])
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blob[cid]; !ok {
		cp := append([]byte(nil), data...)
		s.blob[cid] = cp
	}
	return cid, nil
}

// Get returns the bytes stored under cid.
func (s *Store) Get(ctx context.Context, cid string) ([]byte, error) {
	const op = "inprocess.Store.Get"
	s.mu.Lock()
	data, ok := s.blob[cid]
	s.mu.Unlock()
	if !ok {
		return nil, errors.E(op, errors.NameNotFound, errors.Str("no such blob"))
	}
	return append([]byte(nil), data...), nil
}

// Unpin removes cid from the store. It is idempotent.
func (s *Store) Unpin(ctx context.Context, cid string) error {
	s.mu.Lock()
	delete(s.blob, cid)
	s.mu.Unlock()
	return nil
}
