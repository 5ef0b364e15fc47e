// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// chunkSize is the size of the blocks the encode/decode helpers below
// process at a time. Some runtimes CipherBox clients embed in (mobile
// bridges, WASM) impose argument-size limits on cross-boundary calls;
// chunking keeps any single call's buffer bounded regardless of input size.
// It must be a multiple of 15 (lcm of the base64 3-byte and base32 5-byte
// input groups) so that concatenating per-chunk encodings needs no padding
// fixup, and at least 32 KiB so the chunking overhead stays negligible.
const chunkSize = 32775


// HexEncode lower-hex-encodes b, processing it in chunkSize blocks.
func HexEncode(b []byte) string {
	var sb strings.Builder
	sb.Grow(hex.EncodedLen(len(b)))
	for len(b) > 0 {
		n := chunkSize
		if n > len(b) {
			n = len(b)
		}
		sb.WriteString(hex.EncodeToString(b[:n]))
		b = b[n:]
	}
	return sb.String()
}

// hexEncodedChunkLen is the number of characters a full chunkSize input
// block produces; decoding must split on this boundary (always even) so
// no byte's two hex digits straddle a chunk.
const hexEncodedChunkLen = chunkSize * 2

// HexDecode decodes a lower-hex string produced by HexEncode.
func HexDecode(s string) ([]byte, error) {
	out := make([]byte, 0, hex.DecodedLen(len(s)))
	for len(s) > 0 {
		n := hexEncodedChunkLen
		if n > len(s) {
			n = len(s)
		}
		b, err := hex.DecodeString(s[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		s = s[n:]
	}
	return out, nil
}

// Base64Encode standard-base64-encodes b in chunkSize blocks.
func Base64Encode(b []byte) string {
	var sb strings.Builder
	for len(b) > 0 {
		n := chunkSize
		if n > len(b) {
			n = len(b)
		}
		sb.WriteString(base64.StdEncoding.EncodeToString(b[:n]))
		b = b[n:]
	}
	return sb.String()
}

// base64EncodedChunkLen is the number of characters a full chunkSize input
// block produces; only the final, possibly short, chunk may differ.
const base64EncodedChunkLen = chunkSize / 3 * 4

// Base64Decode decodes concatenated standard-base64 blocks produced by
// Base64Encode, processing the string in the same chunk boundaries it was
// encoded with so no single call handles more than chunkSize of output.
func Base64Decode(s string) ([]byte, error) {
	out := make([]byte, 0, base64.StdEncoding.DecodedLen(len(s)))
	for len(s) > 0 {
		n := base64EncodedChunkLen
		if n > len(s) {
			n = len(s)
		}
		b, err := base64.StdEncoding.DecodeString(s[:n])
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		s = s[n:]
	}
	return out, nil
}

// Base32Encode encodes b using unpadded lowercase base32, in chunkSize
// blocks, the encoding CipherBox Names display as when rendered in the
// "bafzaa..." form.
func Base32Encode(b []byte) string {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	var sb strings.Builder
	for len(b) > 0 {
		n := chunkSize
		if n > len(b) {
			n = len(b)
		}
		sb.WriteString(strings.ToLower(enc.EncodeToString(b[:n])))
		b = b[n:]
	}
	return sb.String()
}

// base32EncodedChunkLen is the number of characters a full chunkSize input
// block produces under unpadded base32.
const base32EncodedChunkLen = chunkSize / 5 * 8

// Base32Decode inverts Base32Encode.
func Base32Decode(s string) ([]byte, error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	out := make([]byte, 0, enc.DecodedLen(len(s)))
	for len(s) > 0 {
		n := base32EncodedChunkLen
		if n > len(s) {
			n = len(s)
		}
		b, err := enc.DecodeString(strings.ToUpper(s[:n]))
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		s = s[n:]
	}
	return out, nil
}
