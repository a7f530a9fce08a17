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

// Package bloom implements the store's RPI pre-screen: an immutable,
// sealed Bloom filter over the RPIs of rows that passed an attenuation
// threshold (§4.5). A negative from Filter.MayContain is never wrong; a
// positive only narrows the candidate set the matcher still has to confirm
// against the store.
package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Filter is a sealed, read-only Bloom filter. Once built it may be shared
// across concurrent match sessions (§4.5, §5).
type Filter struct {
	bits      []byte // len == sizeBytes
	hashCount int
}

// New allocates an empty filter of sizeBytes bytes (8*sizeBytes bits) using
// hashCount hash functions per element. Both must be positive.
func New(sizeBytes int, hashCount int) (*Filter, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("bloom: sizeBytes must be > 0, got %d", sizeBytes)
	}
	if hashCount <= 0 {
		return nil, fmt.Errorf("bloom: hashCount must be > 0, got %d", hashCount)
	}
	return &Filter{
		bits:      make([]byte, sizeBytes),
		hashCount: hashCount,
	}, nil
}

// SizeBytes returns the filter's bitmap size in bytes.
func (f *Filter) SizeBytes() int { return len(f.bits) }

// HashCount returns the number of hash functions (k) used per element.
func (f *Filter) HashCount() int { return f.hashCount }

// Add sets the k bits for rpi. Callers must only call Add while building the
// filter; once handed to a session the filter is treated as sealed (§4.5,
// §5).
func (f *Filter) Add(rpi [16]byte) {
	for i := 0; i < f.hashCount; i++ {
		idx := f.bitIndex(i, rpi)
		f.bits[idx/8] |= 1 << (idx % 8)
	}
}

// MayContain reports whether rpi might have been Added. A false result is a
// guarantee rpi was never added; a true result may be a false positive.
func (f *Filter) MayContain(rpi [16]byte) bool {
	for i := 0; i < f.hashCount; i++ {
		idx := f.bitIndex(i, rpi)
		if f.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// ShouldIgnore is MayContain's complement, matching the §4.5 naming: a
// result of true means the store's pre-screen is confident rpi is absent
// and the candidate slot can be dropped before the scan.
func (f *Filter) ShouldIgnore(rpi [16]byte) bool {
	return !f.MayContain(rpi)
}

// nBits returns the filter's bit count (8 * sizeBytes).
func (f *Filter) nBits() uint32 {
	return uint32(len(f.bits)) * 8
}

// bitIndex derives the i'th of the filter's k hash outputs for rpi, per
// §4.5 / §9: fingerprint SHA-256(seed_i || rpi), take the first 4 bytes
// little-endian, reduce mod the bit count.
func (f *Filter) bitIndex(i int, rpi [16]byte) uint32 {
	var seed [4]byte
	binary.LittleEndian.PutUint32(seed[:], uint32(i))

	h := sha256.New()
	h.Write(seed[:])
	h.Write(rpi[:])
	sum := h.Sum(nil)

	hash := binary.LittleEndian.Uint32(sum[:4])
	return hash % f.nBits()
}

// Marshal serializes the filter per §6: [u32 size_bytes][u32 hash_count]
// [size_bytes of bitmap], bits within a byte LSB-first (which is exactly how
// Add/MayContain already address bits).
func (f *Filter) Marshal() []byte {
	out := make([]byte, 8+len(f.bits))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(f.bits)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(f.hashCount))
	copy(out[8:], f.bits)
	return out
}

// Unmarshal parses a filter previously produced by Marshal.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("bloom: truncated header, got %d bytes", len(data))
	}
	sizeBytes := binary.LittleEndian.Uint32(data[0:4])
	hashCount := binary.LittleEndian.Uint32(data[4:8])
	want := 8 + int(sizeBytes)
	if len(data) != want {
		return nil, fmt.Errorf("bloom: expected %d bytes, got %d", want, len(data))
	}

	f, err := New(int(sizeBytes), int(hashCount))
	if err != nil {
		return nil, err
	}
	copy(f.bits, data[8:])
	return f, nil
}
