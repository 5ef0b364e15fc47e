// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"cipherbox.io/errors"
)

// CTRNonceLen is the length in bytes of the fixed nonce half of the CTR
// counter block; the remaining 8 bytes are the big-endian start-block
// counter.
const CTRNonceLen = 8

// AESCTREncrypt and AESCTRDecrypt are the same operation: CTR mode is its
// own inverse. The counter block is nonce (8 bytes) concatenated with the
// big-endian uint64 startBlock (8 bytes), giving a full 16-byte IV as
// required by crypto/aes's block size. startBlock lets callers encrypt or
// decrypt an arbitrary byte range of a stream without processing everything
// before it, which is how CipherBox serves partial-content reads of large
// media files packed with CTR.
func AESCTREncrypt(plaintext, key, nonce []byte, startBlock uint64) ([]byte, error) {
	return aesCTR(plaintext, key, nonce, startBlock, "crypto.AESCTREncrypt")
}

// AESCTRDecrypt inverts AESCTREncrypt.
func AESCTRDecrypt(ciphertext, key, nonce []byte, startBlock uint64) ([]byte, error) {
	return aesCTR(ciphertext, key, nonce, startBlock, "crypto.AESCTRDecrypt")
}

func aesCTR(in, key, nonce []byte, startBlock uint64, op string) ([]byte, error) {
	if len(key) != AESKeyLen {
		return nil, errors.E(op, errors.InvalidKeySize, errors.Str("wrong key length for AES-256"))
	}
	if len(nonce) != CTRNonceLen {
		return nil, errors.E(op, errors.InvalidKeySize, errors.Str("wrong nonce length for CTR"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	binary.BigEndian.PutUint64(iv[CTRNonceLen:], startBlock)

	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}
