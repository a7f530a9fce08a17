// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package crypto implements the primitive operations the matching core is
// built on: HKDF-SHA256 key derivation, single-block AES-128-ECB, AES-128-CTR
// keystream XOR, and a constant-time 16-byte comparison. The one other
// package that uses crypto/aes directly is keyschedule, whose
// Generate144RPIs reuses a single cipher across a day's 144 blocks.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyLength is the size, in bytes, of a TEK, RPIK, AEMK, or RPI.
const KeyLength = 16

// zeroSalt32 is the 32-byte all-zero HKDF salt used whenever the caller
// omits one (§4.1).
var zeroSalt32 = make([]byte, 32)

// DeriveKey runs HKDF-SHA256 over ikm with the zero-filled 32-byte salt and
// the given info string, producing exactly outLen bytes. The matching core
// only ever needs outLen == KeyLength, but the derivation itself is general.
func DeriveKey(ikm []byte, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, zeroSalt32, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return out, nil
}

// ECBEncryptBlock encrypts a single 16-byte block under AES-128 in ECB mode,
// i.e. a bare AES block-cipher invocation with no chaining. This is only
// ever safe to use on a single fixed-format block, as the RPI derivation does
// (§4.2); it must never be used to encrypt caller-supplied variable data.
func ECBEncryptBlock(key [KeyLength]byte, block [KeyLength]byte) ([KeyLength]byte, error) {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return [KeyLength]byte{}, fmt.Errorf("aes.NewCipher: %w", err)
	}
	var out [KeyLength]byte
	c.Encrypt(out[:], block[:])
	return out, nil
}

// CTRKeyStreamXOR XORs data with the AES-128-CTR keystream generated from key
// and iv, returning a new slice the same length as data. Calling it a second
// time with the same key, iv and the output reverses the operation, so this
// single function implements both AEM encryption and decryption (§4.1).
func CTRKeyStreamXOR(key [KeyLength]byte, iv [KeyLength]byte, data []byte) ([]byte, error) {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	out := make([]byte, len(data))
	stream := cipher.NewCTR(c, iv[:])
	stream.XORKeyStream(out, data)
	return out, nil
}

// ConstantTimeEqual reports whether a and b are equal without branching on
// their contents, as required for RPI comparisons (§4.1, §5).
func ConstantTimeEqual(a, b [KeyLength]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
