// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

// Secret is a byte-slice container for key material. Every function in this
// package that produces or consumes private keys, symmetric keys, or other
// secrets does so through a Secret so that the bytes can be explicitly
// zeroed once the holder is done with them; nothing here relies on a
// finalizer or the garbage collector to scrub memory.
type Secret struct {
	b []byte
}

// NewSecret takes ownership of b and wraps it in a Secret. Callers must not
// retain or mutate b after calling NewSecret.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes returns the secret's underlying bytes. The returned slice aliases
// the Secret's storage; it becomes invalid once Zero is called.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len reports the length of the secret.
func (s *Secret) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Clone returns a Secret holding an independent copy of the bytes, for
// handing the value to an async task (goroutine capture, cache entry)
// without sharing ownership of the zero-on-drop lifecycle.
func (s *Secret) Clone() *Secret {
	if s == nil {
		return nil
	}
	cp := make([]byte, len(s.b))
	copy(cp, s.b)
	return &Secret{b: cp}
}

// Zero overwrites the secret's bytes with zeroes. It is safe to call more
// than once and safe to call on a nil Secret.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	zeroBytes(s.b)
	s.b = s.b[:0]
}

// zeroBytes overwrites b with zeroes in place. Every function in this
// package that allocates a buffer holding secret material must call
// zeroBytes on every exit path once the buffer is no longer needed, even on
// error paths, per the zero-on-drop discipline required of all key material.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
