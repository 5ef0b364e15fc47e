// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package share implements CipherBox's user-to-user sharing protocol:
// rewrapping a folder or file's symmetric key for a
// recipient, walking a shared folder's subtree to rewrap every
// descendant key, propagating fresh keys into existing shares as new
// children are added, and lazily rotating a folder's key after a
// revocation. Keys move between parties only in ECIES-wrapped form;
// the plaintext of a rewrapped key never outlives the rewrap call.
package share

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
	"cipherbox.io/log"
	"cipherbox.io/transport"
)

// sentSharesTTL is the TTL of the process-wide sent-shares cache.
const sentSharesTTL = 30 * time.Second

// Fetcher resolves the live decrypted metadata for a folder or file as
// the share engine walks a subtree. This package has no opinion on how
// a Name's current record and blob are actually retrieved (relay +
// object store + codec, composed by the caller); it only needs the
// result.
type Fetcher interface {
	// FetchFolder returns the decrypted FolderMetadata for folderName,
	// given its already-unwrapped symmetric key.
	FetchFolder(ctx context.Context, folderName string, folderKey *crypto.Secret) (cipherbox.FolderMetadata, error)
	// FetchFile returns the decrypted FileMetadata for fileMetaName,
	// given its parent folder's symmetric key.
	FetchFile(ctx context.Context, fileMetaName string, parentFolderKey *crypto.Secret) (cipherbox.FileMetadata, error)
}

// Engine coordinates sharing against a ShareStore and a Fetcher.
type Engine struct {
	store transport.ShareStore
	fetch Fetcher
	clock cipherbox.Clock

	sentCache *sentSharesCache
}

// New returns a sharing Engine. clock is a seam for Share.CreatedAt and
// cache TTL bookkeeping (see cipherbox.Clock); pass time.Now in
// production.
func New(store transport.ShareStore, fetch Fetcher, clock cipherbox.Clock) *Engine {
	return &Engine{
		store:     store,
		fetch:     fetch,
		clock:     clock,
		sentCache: newSentSharesCache(sentSharesTTL),
	}
}

// Share grants recipientPub access to the item named ipnsName (a
// folder or a file), by unwrapping wrappedItemKeyHex (the hex ECIES
// wrap of the item's symmetric key under the sharer's owner key --
// from the item's parent FolderPointer, or the root key for a root
// share) with ownerPriv and re-wrapping it for recipientPub. For a
// folder, the whole subtree is walked depth-first and every descendant
// key is rewrapped too.
func (e *Engine) Share(ctx context.Context, ownerPriv *crypto.Secret, sharerPub, recipientPub []byte, itemType cipherbox.ChildKind, ipnsName, itemName, wrappedItemKeyHex string) (cipherbox.Share, error) {
	const op = "share.Engine.Share"
	if crypto.ConstantTimeEqual(sharerPub, recipientPub) {
		return cipherbox.Share{}, errors.E(op, errors.Str("cannot share with self"))
	}

	wrapped, err := crypto.HexDecode(wrappedItemKeyHex)
	if err != nil {
		return cipherbox.Share{}, errors.E(op, errors.Name(ipnsName), err)
	}
	plainKey, err := crypto.UnwrapKey(wrapped, ownerPriv)
	if err != nil {
		return cipherbox.Share{}, errors.E(op, errors.Name(ipnsName), err)
	}
	plainKeySecret := crypto.NewSecret(plainKey)
	defer plainKeySecret.Zero()

	encKey, err := crypto.WrapKey(plainKeySecret.Bytes(), recipientPub)
	if err != nil {
		return cipherbox.Share{}, errors.E(op, errors.Name(ipnsName), err)
	}

	result := cipherbox.Share{
		ShareID:      uuid.NewString(),
		SharerPub:    append([]byte(nil), sharerPub...),
		RecipientPub: append([]byte(nil), recipientPub...),
		ItemType:     itemType,
		IPNSName:     ipnsName,
		ItemName:     itemName,
		EncryptedKey: crypto.HexEncode(encKey),
		CreatedAt:    e.clock(),
	}

	var childKeys []cipherbox.ShareKey
	if itemType == cipherbox.KindFolder {
		childKeys, err = e.walkFolder(ctx, ipnsName, plainKeySecret, ownerPriv, recipientPub)
		if err != nil {
			return cipherbox.Share{}, errors.E(op, errors.Name(ipnsName), err)
		}
	}

	if err := e.store.CreateShare(ctx, result, childKeys); err != nil {
		return cipherbox.Share{}, errors.E(op, errors.Name(ipnsName), err)
	}
	e.sentCache.invalidate(string(sharerPub))
	return result, nil
}

// walkFolder recurses depth-first into folderName's subtree, unwrapping
// each child's own key with ownerPriv and re-wrapping it for
// recipientPub. Per-child failures (a malformed wrapped key, a fetch
// failure) are logged and that child's subtree is skipped rather than
// aborting the whole share; the recipient gets every key that could be
// rewrapped.
func (e *Engine) walkFolder(ctx context.Context, folderName string, folderKey, ownerPriv *crypto.Secret, recipientPub []byte) ([]cipherbox.ShareKey, error) {
	const op = "share.Engine.walkFolder"
	meta, err := e.fetch.FetchFolder(ctx, folderName, folderKey)
	if err != nil {
		return nil, errors.E(op, errors.Name(folderName), err)
	}

	var keys []cipherbox.ShareKey
	for _, child := range meta.Children {
		switch child.Type {
		case cipherbox.KindFolder:
			childKeySecret, err := e.unwrapChildKey(child.EncWrappedFolderKey, ownerPriv)
			if err != nil {
				log.Error.Printf("share: unwrap failed for folder child %s: %v", child.ID, err)
				continue
			}
			encKey, err := crypto.WrapKey(childKeySecret.Bytes(), recipientPub)
			if err != nil {
				log.Error.Printf("share: rewrap failed for folder child %s: %v", child.ID, err)
				childKeySecret.Zero()
				continue
			}
			keys = append(keys, cipherbox.ShareKey{ItemType: cipherbox.KindFolder, ItemID: child.ID, EncryptedKey: crypto.HexEncode(encKey)})

			descendantKeys, err := e.walkFolder(ctx, child.ChildName, childKeySecret, ownerPriv, recipientPub)
			childKeySecret.Zero()
			if err != nil {
				log.Error.Printf("share: walk of folder child %s failed: %v", child.ID, err)
				continue
			}
			keys = append(keys, descendantKeys...)

		case cipherbox.KindFile:
			fileMeta, err := e.fetch.FetchFile(ctx, child.FileMetaName, folderKey)
			if err != nil {
				log.Error.Printf("share: fetch failed for file child %s: %v", child.ID, err)
				continue
			}
			fileKeySecret, err := e.unwrapChildKey(fileMeta.FileKeyEncrypted, ownerPriv)
			if err != nil {
				log.Error.Printf("share: unwrap failed for file child %s: %v", child.ID, err)
				continue
			}
			encKey, err := crypto.WrapKey(fileKeySecret.Bytes(), recipientPub)
			fileKeySecret.Zero()
			if err != nil {
				log.Error.Printf("share: rewrap failed for file child %s: %v", child.ID, err)
				continue
			}
			keys = append(keys, cipherbox.ShareKey{ItemType: cipherbox.KindFile, ItemID: child.ID, EncryptedKey: crypto.HexEncode(encKey)})
		}
	}
	return keys, nil
}

func (e *Engine) unwrapChildKey(wrappedHex string, ownerPriv *crypto.Secret) (*crypto.Secret, error) {
	const op = "share.Engine.unwrapChildKey"
	wrapped, err := crypto.HexDecode(wrappedHex)
	if err != nil {
		return nil, errors.E(op, err)
	}
	raw, err := crypto.UnwrapKey(wrapped, ownerPriv)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return crypto.NewSecret(raw), nil
}

// PropagateResult is the aggregate status PropagateNewChild returns,
// since per-recipient rewrap failures are logged rather than aborting
// the whole propagation.
type PropagateResult struct {
	Succeeded int
	Failed    int
}

// PropagateNewChild rewraps childPlainKey for every active share that
// covers one of ancestorNames (the mutated folder's Name followed by
// its ancestors up to the root, computed by the caller -- this package
// does not know the folder tree's shape) and appends the rewrap to
// each covering share: a new file or subfolder's key must reach every
// covering share before the caller reports success.
func (e *Engine) PropagateNewChild(ctx context.Context, sharerPub []byte, ancestorNames []string, childPlainKey *crypto.Secret, childType cipherbox.ChildKind, childID string) (PropagateResult, error) {
	const op = "share.Engine.PropagateNewChild"
	shares, err := e.CoveringShares(ctx, sharerPub, ancestorNames)
	if err != nil {
		return PropagateResult{}, errors.E(op, err)
	}

	var result PropagateResult
	for _, sh := range shares {
		encKey, err := crypto.WrapKey(childPlainKey.Bytes(), sh.RecipientPub)
		if err != nil {
			log.Error.Printf("share: propagate rewrap for share %s failed: %v", sh.ShareID, err)
			result.Failed++
			continue
		}
		key := cipherbox.ShareKey{ShareID: sh.ShareID, ItemType: childType, ItemID: childID, EncryptedKey: crypto.HexEncode(encKey)}
		if err := e.store.AddShareKeys(ctx, sh.ShareID, []cipherbox.ShareKey{key}); err != nil {
			log.Error.Printf("share: AddShareKeys for %s failed: %v", sh.ShareID, err)
			result.Failed++
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// CoveringShares returns sharerPub's active sent shares whose IPNSName
// appears in ancestorNames.
func (e *Engine) CoveringShares(ctx context.Context, sharerPub []byte, ancestorNames []string) ([]cipherbox.Share, error) {
	const op = "share.Engine.CoveringShares"
	sent, err := e.GetSentShares(ctx, sharerPub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	ancestorSet := make(map[string]bool, len(ancestorNames))
	for _, n := range ancestorNames {
		ancestorSet[n] = true
	}
	var out []cipherbox.Share
	for _, sh := range sent {
		if sh.Active() && ancestorSet[sh.IPNSName] {
			out = append(out, sh)
		}
	}
	return out, nil
}

// GetSentShares returns sharerPub's sent shares, serving from the
// 30-second sent-shares cache when fresh.
func (e *Engine) GetSentShares(ctx context.Context, sharerPub []byte) ([]cipherbox.Share, error) {
	const op = "share.Engine.GetSentShares"
	key := string(sharerPub)
	if cached, ok := e.sentCache.get(key, e.clock()); ok {
		return cached, nil
	}
	shares, err := e.store.GetSentShares(ctx, sharerPub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	e.sentCache.set(key, shares, e.clock())
	return shares, nil
}

// GetReceivedShares returns the shares addressed to recipientPub. It is
// not cached: a revoked share must disappear from this call
// immediately, not after a 30-second window.
func (e *Engine) GetReceivedShares(ctx context.Context, recipientPub []byte) ([]cipherbox.Share, error) {
	const op = "share.Engine.GetReceivedShares"
	shares, err := e.store.GetReceivedShares(ctx, recipientPub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	var active []cipherbox.Share
	for _, sh := range shares {
		if sh.Active() {
			active = append(active, sh)
		}
	}
	return active, nil
}

// Revoke soft-deletes shareID. Keys remain server-side because older
// recipients may still hold the ciphertext; the owning folder's key is
// replaced only lazily, at its next mutation (see PerformRotation).
func (e *Engine) Revoke(ctx context.Context, sharerPub []byte, shareID string) error {
	const op = "share.Engine.Revoke"
	if err := e.store.RevokeShare(ctx, shareID); err != nil {
		return errors.E(op, errors.ShareID(shareID), err)
	}
	e.sentCache.invalidate(string(sharerPub))
	return nil
}

// RotationResult is what PerformRotation returns. NewFolderKey is nil
// if there was nothing pending to rotate.
type RotationResult struct {
	NewFolderKey *crypto.Secret
	Completed    []string // ShareIDs whose rows were hard-deleted
}

// PendingRotations returns folderName's revoked-but-not-yet-completed
// shares: a share row that is still present but inactive means its
// rotation has not run CompleteRotation yet.
func (e *Engine) PendingRotations(ctx context.Context, sharerPub []byte, folderName string) ([]cipherbox.Share, error) {
	const op = "share.Engine.PendingRotations"
	sent, err := e.GetSentShares(ctx, sharerPub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	var pending []cipherbox.Share
	for _, sh := range sent {
		if sh.IPNSName == folderName && !sh.Active() {
			pending = append(pending, sh)
		}
	}
	return pending, nil
}

// PerformRotation executes the lazy key rotation for folderName:
// generates a fresh folder key, re-wraps it for every remaining
// (non-revoked) recipient, updates their share rows, and hard-deletes
// the revoked rows once done. It is a no-op (zero-value result, nil
// error) if nothing is pending.
//
// The caller must still re-encrypt folderName's metadata under the
// returned key, publish the new record, and refresh the parent
// FolderPointer's encWrappedFolderKey -- this package has no
// dependency on the codec or publish coordinator, so it only does the
// key-rewrap and share-bookkeeping half of rotation.
func (e *Engine) PerformRotation(ctx context.Context, sharerPub []byte, folderName string) (RotationResult, error) {
	const op = "share.Engine.PerformRotation"
	pending, err := e.PendingRotations(ctx, sharerPub, folderName)
	if err != nil {
		return RotationResult{}, errors.E(op, err)
	}
	if len(pending) == 0 {
		return RotationResult{}, nil
	}

	sent, err := e.GetSentShares(ctx, sharerPub)
	if err != nil {
		return RotationResult{}, errors.E(op, err)
	}
	var remaining []cipherbox.Share
	for _, sh := range sent {
		if sh.IPNSName == folderName && sh.Active() {
			remaining = append(remaining, sh)
		}
	}

	newKeyRaw, err := crypto.GenerateRandomBytes(crypto.AESKeyLen)
	if err != nil {
		return RotationResult{}, errors.E(op, err)
	}
	newKey := crypto.NewSecret(newKeyRaw)

	for _, sh := range remaining {
		encKey, err := crypto.WrapKey(newKey.Bytes(), sh.RecipientPub)
		if err != nil {
			log.Error.Printf("share: rotation rewrap for %s failed: %v", sh.ShareID, err)
			continue
		}
		if err := e.store.UpdateShareEncryptedKey(ctx, sh.ShareID, crypto.HexEncode(encKey)); err != nil {
			log.Error.Printf("share: rotation update for %s failed: %v", sh.ShareID, err)
		}
	}

	var completed []string
	for _, sh := range pending {
		if err := e.store.CompleteRotation(ctx, sh.ShareID); err != nil {
			log.Error.Printf("share: CompleteRotation for %s failed: %v", sh.ShareID, err)
			continue
		}
		completed = append(completed, sh.ShareID)
	}
	e.sentCache.invalidate(string(sharerPub))

	return RotationResult{NewFolderKey: newKey, Completed: completed}, nil
}

// sentSharesCache is the process-wide, 30-second-TTL cache of a
// sharer's sent shares.
type sentSharesCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]sentSharesCacheEntry
}

type sentSharesCacheEntry struct {
	shares []cipherbox.Share
	at     time.Time
}

func newSentSharesCache(ttl time.Duration) *sentSharesCache {
	return &sentSharesCache{ttl: ttl, items: make(map[string]sentSharesCacheEntry)}
}

func (c *sentSharesCache) get(key string, now time.Time) ([]cipherbox.Share, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || now.Sub(e.at) > c.ttl {
		return nil, false
	}
	return e.shares, true
}

func (c *sentSharesCache) set(key string, shares []cipherbox.Share, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = sentSharesCacheEntry{shares: shares, at: now}
}

func (c *sentSharesCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}
