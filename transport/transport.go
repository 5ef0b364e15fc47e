// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport defines the Go interfaces CipherBox's core talks to
// for its three external collaborators (the content-addressed object
// store, the name-routing relay, and the TEE) plus the share store.
// A remote client and an in-memory double satisfy the same contract.
package transport

import (
	"context"

	"cipherbox.io/cipherbox"
)

// ResolveResult is what Relay.Resolve returns for a Name that exists.
// SignatureV2, Data, and PubKey are nil if the record on file predates
// V2 signing or was corrupted; Found is false if the Name has no
// record at all.
type ResolveResult struct {
	Found       bool
	CID         string
	Sequence    uint64
	SignatureV2 []byte
	Data        []byte
	PubKey      []byte
}

// PublishResult is the per-entry outcome of a publish or batch-publish
// call.
type PublishResult struct {
	Success  bool
	Sequence uint64
}

// BatchResult is the aggregate outcome of PublishBatch.
type BatchResult struct {
	Results        []PublishResult
	TotalSucceeded int
	TotalFailed    int
}

// Relay is the name-routing relay: publishes and resolves name
// records. It never sees plaintext keys or metadata, only opaque
// signed records and ECIES-wrapped signing keys.
type Relay interface {
	Publish(ctx context.Context, entry cipherbox.PublishEntry) (PublishResult, error)
	PublishBatch(ctx context.Context, entries []cipherbox.PublishEntry) (BatchResult, error)
	Resolve(ctx context.Context, name string) (ResolveResult, error)
}

// ObjectStore is the content-addressed blob store.
type ObjectStore interface {
	Add(ctx context.Context, data []byte) (cid string, err error)
	Get(ctx context.Context, cid string) ([]byte, error)
	Unpin(ctx context.Context, cid string) error
}

// ShareStore mediates ciphertext-only share bookkeeping: it never
// decrypts anything, only stores and returns the rewrapped keys and
// share metadata clients hand it.
type ShareStore interface {
	CreateShare(ctx context.Context, share cipherbox.Share, childKeys []cipherbox.ShareKey) error
	GetSentShares(ctx context.Context, sharerPub []byte) ([]cipherbox.Share, error)
	GetReceivedShares(ctx context.Context, recipientPub []byte) ([]cipherbox.Share, error)
	GetShareKeys(ctx context.Context, shareID string) ([]cipherbox.ShareKey, error)
	AddShareKeys(ctx context.Context, shareID string, keys []cipherbox.ShareKey) error
	UpdateShareEncryptedKey(ctx context.Context, shareID, encryptedKey string) error
	RevokeShare(ctx context.Context, shareID string) error
	CompleteRotation(ctx context.Context, shareID string) error
	HideShare(ctx context.Context, shareID string) error
	LookupUser(ctx context.Context, identifier string) (pubKey []byte, err error)
}

// TEEClient is the client-side view of the TEE relay's key-enrollment
// and republish protocol.
type TEEClient interface {
	// CurrentEpoch returns the TEE's current epoch identifier and
	// ECIES public key, used to wrap a signing key on first publish.
	CurrentEpoch(ctx context.Context) (epoch string, pub []byte, err error)
	// PreviousEpoch returns the prior epoch's public key, used only to
	// determine whether a grace-period re-wrap is still needed; the
	// TEE itself, not the client, does the fallback-decrypt.
	PreviousEpoch(ctx context.Context) (epoch string, pub []byte, err error)
	// Enroll submits a freshly wrapped signing key for name to the TEE
	// for periodic republish.
	Enroll(ctx context.Context, name string, encWrappedSigningKey []byte, epoch string) error
}
