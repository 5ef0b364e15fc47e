// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherbox.io/crypto"
)

func testSigner(t *testing.T) (*crypto.Secret, []byte) {
	priv, pub, err := crypto.GenerateEd25519()
	require.NoError(t, err)
	return priv, pub
}

func TestBuildAndSignRoundTripsThroughWire(t *testing.T) {
	priv, pub := testSigner(t)
	defer priv.Zero()
	now := time.Now()

	rec, wire, err := BuildAndSign("bafybeigdyrzt", 1, now, priv, pub)
	require.NoError(t, err)

	got, err := ParseAndVerify(wire)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.Equal(t, rec.Value, got.Value)
	assert.Equal(t, rec.Sequence, got.Sequence)
	assert.Equal(t, pub, got.PubKey)
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	priv, pub := testSigner(t)
	defer priv.Zero()

	_, wire, err := BuildAndSign("bafybeigdyrzt", 1, time.Now(), priv, pub)
	require.NoError(t, err)

	wire[len(wire)-1] ^= 0xff
	got, err := ParseAndVerify(wire)
	if err != nil {
		// A flipped byte can also land in a length/tag varint and
		// produce a hard parse error instead of a verification
		// failure; either outcome means the tampered record is
		// rejected, which is what this test is checking for.
		return
	}
	assert.False(t, got.Verified)
}

func TestUnmarshalUnverifiableWithoutSignature(t *testing.T) {
	var buf []byte
	buf = appendLengthDelim(buf, fieldValue, []byte("/ipfs/bafybeigdyrzt"))
	buf = appendVarint(buf, fieldSequence, 1)

	rec, err := ParseAndVerify(buf)
	require.NoError(t, err)
	assert.False(t, rec.Verified)
	assert.Nil(t, rec.SignatureV2)
}

func TestUnmarshalRejectsWireType3(t *testing.T) {
	tag := uint64(99)<<3 | 3
	buf := appendVarintRaw(tag)
	_, err := Unmarshal(buf)
	require.Error(t, err)
}

func TestUnmarshalToleratesUnknownFields(t *testing.T) {
	priv, pub := testSigner(t)
	defer priv.Zero()

	_, wire, err := BuildAndSign("bafybeigdyrzt", 1, time.Now(), priv, pub)
	require.NoError(t, err)

	// Append an unknown varint field (field 42, wire type 0).
	wire = appendVarint(wire, 42, 12345)

	got, err := ParseAndVerify(wire)
	require.NoError(t, err)
	assert.True(t, got.Verified)
}

func TestUnmarshalKeepsLastValueOccurrence(t *testing.T) {
	var buf []byte
	buf = appendLengthDelim(buf, fieldValue, []byte("/ipfs/first"))
	buf = appendLengthDelim(buf, fieldValue, []byte("/ipfs/second"))

	rec, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, "/ipfs/second", rec.Value)
}

func TestUnmarshalRejectsTruncatedLengthDelimited(t *testing.T) {
	tag := uint64(fieldValue)<<3 | wireLenDlim
	buf := appendVarintRaw(tag)
	buf = append(buf, appendVarintRaw(10)...) // claims 10 bytes, supplies none
	_, err := Unmarshal(buf)
	require.Error(t, err)
}

func TestSequenceMaxInt64RoundTrips(t *testing.T) {
	priv, pub := testSigner(t)
	defer priv.Zero()

	const maxSeq = uint64(1)<<63 - 1
	_, wire, err := BuildAndSign("bafybeigdyrzt", maxSeq, time.Now(), priv, pub)
	require.NoError(t, err)

	got, err := ParseAndVerify(wire)
	require.NoError(t, err)
	assert.Equal(t, maxSeq, got.Sequence)
}

func TestPubKeyNilOnUnrecognizedFraming(t *testing.T) {
	var buf []byte
	buf = appendLengthDelim(buf, fieldPubKey, []byte("not-a-libp2p-key"))

	rec, err := Unmarshal(buf)
	require.NoError(t, err)
	assert.Nil(t, rec.PubKey)
}

func appendVarintRaw(v uint64) []byte {
	var buf []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			break
		}
	}
	return buf
}
