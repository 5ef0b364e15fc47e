// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ipns builds, signs, marshals, unmarshals, and verifies V2
// mutable name records: a deterministic CBOR payload, a
// domain-separated Ed25519 signature, and the exact low-level protobuf
// field layout the public IPNS ecosystem requires for interop.
package ipns

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/multiformats/go-varint"

	"cipherbox.io/cipherbox"
	"cipherbox.io/crypto"
	"cipherbox.io/errors"
	"cipherbox.io/name"
)

// RecordValidity is the validity window every record CipherBox builds
// carries.
const RecordValidity = 24 * time.Hour

// signaturePrefix domain-separates name-record signing from any other
// use of the same Ed25519 key.
var signaturePrefix = []byte("ipns-signature:")

// Protobuf field numbers of the public IPNS record layout.
const (
	fieldValue       = 1
	fieldSequence    = 5
	fieldPubKey      = 7
	fieldSignatureV2 = 8
	fieldData        = 9
)

// Protobuf wire types.
const (
	wireVarint  = 0
	wire64bit   = 1
	wireLenDlim = 2
	wire32bit   = 5
)

// recordData is the CBOR-encoded payload carried in a NameRecord's Data
// field. Field order is fixed (Value, Validity, ValidityType, Sequence);
// the encoding must be deterministic for signatures to be reproducible.
type recordData struct {
	Value        string `cbor:"Value"`
	Validity     string `cbor:"Validity"`
	ValidityType int    `cbor:"ValidityType"`
	Sequence     uint64 `cbor:"Sequence"`
}

// Build constructs the deterministic CBOR Data payload for a record
// pointing at cid with the given sequence, valid for RecordValidity
// starting at now.
func Build(cid string, sequence uint64, now time.Time) ([]byte, error) {
	const op = "ipns.Build"
	d := recordData{
		Value:        "/ipfs/" + cid,
		Validity:     now.Add(RecordValidity).UTC().Format(time.RFC3339),
		ValidityType: int(cipherbox.ValidityEOL),
		Sequence:     sequence,
	}
	data, err := cbor.Marshal(d)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// Sign signs data (a Build result) with signingKey, returning the
// 64-byte SignatureV2.
func Sign(data []byte, signingKey *crypto.Secret) ([]byte, error) {
	const op = "ipns.Sign"
	signedInput := append(append([]byte(nil), signaturePrefix...), data...)
	sig, err := crypto.SignEd25519(signingKey, signedInput)
	if err != nil {
		return nil, errors.E(op, errors.SigningFailed, err)
	}
	return sig, nil
}

// BuildAndSign builds, signs, and assembles a full NameRecord for cid
// under signingKey/pub, along with its marshaled wire bytes.
func BuildAndSign(cid string, sequence uint64, now time.Time, signingKey *crypto.Secret, pub []byte) (cipherbox.NameRecord, []byte, error) {
	const op = "ipns.BuildAndSign"
	data, err := Build(cid, sequence, now)
	if err != nil {
		return cipherbox.NameRecord{}, nil, errors.E(op, err)
	}
	sig, err := Sign(data, signingKey)
	if err != nil {
		return cipherbox.NameRecord{}, nil, errors.E(op, err)
	}

	var d recordData
	if err := cbor.Unmarshal(data, &d); err != nil {
		return cipherbox.NameRecord{}, nil, errors.E(op, err)
	}
	validity, err := time.Parse(time.RFC3339, d.Validity)
	if err != nil {
		return cipherbox.NameRecord{}, nil, errors.E(op, err)
	}

	rec := cipherbox.NameRecord{
		Value:        d.Value,
		Sequence:     sequence,
		Validity:     validity,
		ValidityType: cipherbox.ValidityType(d.ValidityType),
		SignatureV2:  sig,
		Data:         data,
		PubKey:       append([]byte(nil), pub...),
		Verified:     true,
	}
	return rec, Marshal(rec), nil
}

// Marshal serializes rec into its length-delimited protobuf wire form.
func Marshal(rec cipherbox.NameRecord) []byte {
	var buf []byte
	buf = appendLengthDelim(buf, fieldValue, []byte(rec.Value))
	buf = appendVarint(buf, fieldSequence, rec.Sequence)
	if len(rec.PubKey) > 0 {
		buf = appendLengthDelim(buf, fieldPubKey, name.WrapEd25519PubKey(rec.PubKey))
	}
	if len(rec.SignatureV2) > 0 {
		buf = appendLengthDelim(buf, fieldSignatureV2, rec.SignatureV2)
	}
	if len(rec.Data) > 0 {
		buf = appendLengthDelim(buf, fieldData, rec.Data)
	}
	return buf
}

// Unmarshal performs a length-delimited protobuf scan of b, tolerant of
// unknown fields and of wire types 0, 1, 2, and 5. Wire type 3 (and any
// other unrecognized wire type) is a hard parse error, as are truncated
// or overlength varints. A repeated Value field keeps its last
// occurrence. PubKey is populated only if its bytes match the exact
// 36-byte libp2p Ed25519 framing; otherwise it is left nil.
//
// Unmarshal does not verify the signature -- callers MUST call Verify
// (or ParseAndVerify) and must not treat a non-nil PubKey as proof of
// authenticity on its own.
func Unmarshal(b []byte) (cipherbox.NameRecord, error) {
	const op = "ipns.Unmarshal"
	var rec cipherbox.NameRecord

	for len(b) > 0 {
		tag, n, err := varint.FromUvarint(b)
		if err != nil {
			return cipherbox.NameRecord{}, errors.E(op, errors.Str("malformed field tag"))
		}
		b = b[n:]
		field := tag >> 3
		wireType := tag & 0x7

		switch wireType {
		case wireVarint:
			v, n, err := varint.FromUvarint(b)
			if err != nil {
				return cipherbox.NameRecord{}, errors.E(op, errors.Str("malformed varint field"))
			}
			b = b[n:]
			if field == fieldSequence {
				rec.Sequence = v
			}
		case wire64bit:
			if uint64(len(b)) < 8 {
				return cipherbox.NameRecord{}, errors.E(op, errors.Str("truncated 64-bit field"))
			}
			b = b[8:]
		case wireLenDlim:
			l, n, err := varint.FromUvarint(b)
			if err != nil {
				return cipherbox.NameRecord{}, errors.E(op, errors.Str("malformed field length"))
			}
			b = b[n:]
			if uint64(len(b)) < l {
				return cipherbox.NameRecord{}, errors.E(op, errors.Str("truncated length-delimited field"))
			}
			data := b[:l]
			b = b[l:]
			switch field {
			case fieldValue:
				rec.Value = string(data)
			case fieldPubKey:
				if pub, err := name.UnwrapEd25519PubKey(data); err == nil {
					rec.PubKey = pub
				} else {
					rec.PubKey = nil
				}
			case fieldSignatureV2:
				rec.SignatureV2 = append([]byte(nil), data...)
			case fieldData:
				rec.Data = append([]byte(nil), data...)
			}
		case wire32bit:
			if uint64(len(b)) < 4 {
				return cipherbox.NameRecord{}, errors.E(op, errors.Str("truncated 32-bit field"))
			}
			b = b[4:]
		default:
			return cipherbox.NameRecord{}, errors.E(op, errors.Str("unsupported wire type"))
		}
	}

	if len(rec.Data) > 0 {
		var d recordData
		if err := cbor.Unmarshal(rec.Data, &d); err == nil {
			if validity, err := time.Parse(time.RFC3339, d.Validity); err == nil {
				rec.Validity = validity
			}
			rec.ValidityType = cipherbox.ValidityType(d.ValidityType)
		}
	}
	return rec, nil
}

// Verify reports whether rec carries a valid signature: recomputes
// signedInput from rec.Data and checks rec.SignatureV2 against
// rec.PubKey. A record missing any of SignatureV2, Data, or PubKey is
// unverifiable and Verify returns false.
func Verify(rec cipherbox.NameRecord) bool {
	if len(rec.SignatureV2) == 0 || len(rec.Data) == 0 || len(rec.PubKey) == 0 {
		return false
	}
	signedInput := append(append([]byte(nil), signaturePrefix...), rec.Data...)
	return crypto.VerifyEd25519(rec.SignatureV2, signedInput, rec.PubKey)
}

// ParseAndVerify unmarshals b and sets Verified per Verify's result,
// the one call sequence callers resolving a Name from the wire should
// use so "lookup succeeded but content untrusted" is never silently
// dropped.
func ParseAndVerify(b []byte) (cipherbox.NameRecord, error) {
	const op = "ipns.ParseAndVerify"
	rec, err := Unmarshal(b)
	if err != nil {
		return cipherbox.NameRecord{}, errors.E(op, err)
	}
	rec.Verified = Verify(rec)
	return rec, nil
}

func appendVarint(buf []byte, field int, v uint64) []byte {
	tag := uint64(field)<<3 | wireVarint
	buf = append(buf, varint.ToUvarint(tag)...)
	buf = append(buf, varint.ToUvarint(v)...)
	return buf
}

func appendLengthDelim(buf []byte, field int, data []byte) []byte {
	tag := uint64(field)<<3 | wireLenDlim
	buf = append(buf, varint.ToUvarint(tag)...)
	buf = append(buf, varint.ToUvarint(uint64(len(data)))...)
	buf = append(buf, data...)
	return buf
}
