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

// Package keyschedule derives the per-day key material (RPIK, AEMK) and the
// Rolling Proximity Identifiers that key material produces, from a single
// Temporary Exposure Key (§4.2).
package keyschedule

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"

	"github.com/ennotif/matchcore/internal/crypto"
)

// RollingPeriod is the number of 10-minute intervals a single TEK covers.
const RollingPeriod = 144

const (
	rpikInfo = "EN-RPIK"
	aemkInfo = "EN-AEMK"
	rpiInfoPrefix = "EN-RPI"
)

// TEK is a 16-byte Temporary Exposure Key.
type TEK [16]byte

// RPIK derives the Rolling Proximity Identifier Key for tek.
func RPIK(tek TEK) ([16]byte, error) {
	return derive(tek, rpikInfo)
}

// AEMK derives the Associated Encrypted Metadata Key for tek.
func AEMK(tek TEK) ([16]byte, error) {
	return derive(tek, aemkInfo)
}

func derive(tek TEK, info string) ([16]byte, error) {
	var out [16]byte
	k, err := crypto.DeriveKey(tek[:], []byte(info), len(out))
	if err != nil {
		return out, fmt.Errorf("deriving %s: %w", info, err)
	}
	copy(out[:], k)
	return out, nil
}

// paddedData builds the 16-byte ECB input block for interval enin:
// "EN-RPI" (6 bytes) || 6 zero bytes || little-endian uint32(enin).
func paddedData(enin uint32) [16]byte {
	var block [16]byte
	copy(block[:6], rpiInfoPrefix)
	binary.LittleEndian.PutUint32(block[12:], enin)
	return block
}

// RPI derives the single Rolling Proximity Identifier that rpik produces at
// absolute interval number enin.
func RPI(rpik [16]byte, enin uint32) ([16]byte, error) {
	return crypto.ECBEncryptBlock(rpik, paddedData(enin))
}

// Generate144RPIs derives the full day of RPIs a TEK with rolling-start
// interval eninStart produces: one per interval in [eninStart, eninStart+144).
// It issues a single AES key schedule (one aes.NewCipher call) and reuses it
// across all 144 block encryptions, which is both the hot path the matcher
// depends on and byte-for-byte identical to 144 individual calls to RPI.
func Generate144RPIs(rpik [16]byte, eninStart uint32) ([RollingPeriod * 16]byte, error) {
	var out [RollingPeriod * 16]byte

	block, err := aes.NewCipher(rpik[:])
	if err != nil {
		return out, fmt.Errorf("aes.NewCipher: %w", err)
	}

	for j := 0; j < RollingPeriod; j++ {
		pd := paddedData(eninStart + uint32(j))
		block.Encrypt(out[j*16:(j+1)*16], pd[:])
	}
	return out, nil
}

// IntervalNumber returns the ENIN (§3) for Unix time t, in seconds.
func IntervalNumber(unixSeconds int64) uint32 {
	return uint32(unixSeconds / 600)
}

// RollingStartIntervalNumber returns the start-of-day ENIN (a multiple of
// RollingPeriod) that covers unixSeconds.
func RollingStartIntervalNumber(unixSeconds int64) uint32 {
	return IntervalNumber(unixSeconds) / RollingPeriod * RollingPeriod
}
