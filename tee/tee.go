// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tee implements CipherBox's TEE key-enrollment protocol:
// wrapping a Name's Ed25519 signing key under the TEE's current
// ECIES epoch public key so the TEE can periodically resign and
// republish the record without ever seeing plaintext, with a
// current/previous epoch pair to tolerate the TEE rolling its own
// keypair mid-flight.
package tee

import (
	"context"
	"sync"
	"time"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
	"cipherbox.io/transport"
)

// RepublishInterval is the TEE's target republish cadence.
const RepublishInterval = 3 * time.Hour

// RecordValidity is the validity window a republished record carries.
const RecordValidity = 24 * time.Hour

// GracePeriod is how long a previous epoch's key remains valid for
// decrypting retained entries before the TEE should re-wrap them under
// the new current epoch.
const GracePeriod = 30 * 24 * time.Hour

// EpochKeyPair is one of the TEE's two live ECIES keypairs.
type EpochKeyPair struct {
	ID   string
	priv *crypto.Secret
	Pub  []byte
}

// KeyStore holds the TEE's current and (optionally) previous epoch
// keypairs and implements the fallback-decrypt and re-wrap halves of
// the enrollment protocol. It is the TEE-side counterpart to Enroller;
// production code wires it behind transport.TEEClient the way
// tee/inprocess does.
type KeyStore struct {
	mu         sync.Mutex
	current    EpochKeyPair
	previous   EpochKeyPair
	havePrev   bool
	clock      cipherbox.Clock
	rotatedAt  time.Time
	nextEpochN int
}

// NewKeyStore returns a KeyStore with a freshly generated current
// epoch and no previous epoch.
func NewKeyStore(clock cipherbox.Clock) (*KeyStore, error) {
	const op = "tee.NewKeyStore"
	ks := &KeyStore{clock: clock, nextEpochN: 1}
	kp, err := ks.generateEpoch()
	if err != nil {
		return nil, errors.E(op, err)
	}
	ks.current = kp
	ks.rotatedAt = clock()
	return ks, nil
}

func (ks *KeyStore) generateEpoch() (EpochKeyPair, error) {
	const op = "tee.KeyStore.generateEpoch"
	seed, err := crypto.GenerateRandomBytes(crypto.Secp256k1PrivateKeyLen)
	if err != nil {
		return EpochKeyPair{}, errors.E(op, err)
	}
	priv, pub, err := crypto.Secp256k1FromSeed(seed)
	if err != nil {
		return EpochKeyPair{}, errors.E(op, err)
	}
	id := epochID(ks.nextEpochN)
	ks.nextEpochN++
	return EpochKeyPair{ID: id, priv: priv, Pub: pub}, nil
}

func epochID(n int) string {
	const digits = "0123456789"
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%10]}, buf...)
		n /= 10
	}
	return "epoch-" + string(buf)
}

// Current returns the TEE's current epoch identifier and ECIES public
// key, the key a client should always wrap a signing key under.
func (ks *KeyStore) Current() (string, []byte) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.current.ID, ks.current.Pub
}

// Previous returns the prior epoch's identifier and public key, and
// false if the TEE has never rotated.
func (ks *KeyStore) Previous() (string, []byte, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if !ks.havePrev {
		return "", nil, false
	}
	return ks.previous.ID, ks.previous.Pub, true
}

// Unwrap decrypts wrapped, a signing key ECIES-sealed under either the
// current or previous epoch. Every failure -- wrong epoch, corrupt
// ciphertext, or an unknown epoch identifier -- returns the same
// generic error, so a caller (or an attacker probing the TEE) cannot
// distinguish "bad ciphertext" from "wrong key" from an oracle
// response.
func (ks *KeyStore) Unwrap(wrapped []byte, epoch string) (*crypto.Secret, error) {
	const op = "tee.KeyStore.Unwrap"
	ks.mu.Lock()
	current, previous, havePrev := ks.current, ks.previous, ks.havePrev
	ks.mu.Unlock()

	var candidates []EpochKeyPair
	switch epoch {
	case current.ID:
		candidates = []EpochKeyPair{current}
	case previous.ID:
		if havePrev {
			candidates = []EpochKeyPair{previous}
		}
	default:
		candidates = []EpochKeyPair{current}
		if havePrev {
			candidates = append(candidates, previous)
		}
	}

	for _, kp := range candidates {
		raw, err := crypto.UnwrapKey(wrapped, kp.priv)
		if err == nil {
			return crypto.NewSecret(raw), nil
		}
	}
	return nil, errors.E(op, errors.DecryptionFailed, errors.Str("signing key unwrap failed"))
}

// Rotate retires the current epoch to previous and generates a fresh
// current epoch. A previously retained previous epoch, if any, is
// discarded (the TEE only ever tolerates one trailing epoch).
func (ks *KeyStore) Rotate() error {
	const op = "tee.KeyStore.Rotate"
	ks.mu.Lock()
	defer ks.mu.Unlock()
	kp, err := ks.generateEpoch()
	if err != nil {
		return errors.E(op, err)
	}
	ks.previous = ks.current
	ks.havePrev = true
	ks.current = kp
	ks.rotatedAt = ks.clock()
	return nil
}

// NeedsRewrap reports whether the grace period for the previous epoch
// has elapsed, meaning retained entries still wrapped under it should
// be re-wrapped for the current epoch.
func (ks *KeyStore) NeedsRewrap() bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if !ks.havePrev {
		return false
	}
	return ks.clock().Sub(ks.rotatedAt) >= GracePeriod
}

// Rewrap decrypts wrapped (sealed under epoch, current or previous)
// and re-seals it under the current epoch's public key, returning the
// new ciphertext and the current epoch's identifier.
func (ks *KeyStore) Rewrap(wrapped []byte, epoch string) ([]byte, string, error) {
	const op = "tee.KeyStore.Rewrap"
	plain, err := ks.Unwrap(wrapped, epoch)
	if err != nil {
		return nil, "", errors.E(op, err)
	}
	defer plain.Zero()

	curID, curPub := ks.Current()
	fresh, err := crypto.WrapKey(plain.Bytes(), curPub)
	if err != nil {
		return nil, "", errors.E(op, err)
	}
	return fresh, curID, nil
}

// Enroller is the client-side half of the protocol: it wraps a Name's
// signing key under the TEE's current epoch public key and submits it
// for periodic republish, called once on a Name's first publish.
type Enroller struct {
	client transport.TEEClient
}

// NewEnroller returns an Enroller submitting through client.
func NewEnroller(client transport.TEEClient) *Enroller {
	return &Enroller{client: client}
}

// Enroll wraps signingKey under the TEE's current epoch and submits it
// for name, returning the wrapped bytes and epoch identifier so the
// caller can attach them to the Name's first publish.Request.
func (en *Enroller) Enroll(ctx context.Context, name string, signingKey *crypto.Secret) ([]byte, string, error) {
	const op = "tee.Enroller.Enroll"
	epoch, pub, err := en.client.CurrentEpoch(ctx)
	if err != nil {
		return nil, "", errors.E(op, errors.Name(name), err)
	}
	wrapped, err := crypto.WrapKey(signingKey.Bytes(), pub)
	if err != nil {
		return nil, "", errors.E(op, errors.Name(name), err)
	}
	if err := en.client.Enroll(ctx, name, wrapped, epoch); err != nil {
		return nil, "", errors.E(op, errors.Name(name), err)
	}
	return wrapped, epoch, nil
}

// RepublishDue reports whether a Name last republished at lastAt is
// due for another republish at now, per the target cadence.
func RepublishDue(lastAt, now time.Time) bool {
	return now.Sub(lastAt) >= RepublishInterval
}
