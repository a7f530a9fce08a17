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

// Package attenuation decrypts the per-beacon Associated Encrypted Metadata
// and derives the attenuation value scoring is built on (§4.3).
package attenuation

import (
	"fmt"

	"github.com/ennotif/matchcore/internal/crypto"
)

// Unknown is the attenuation sentinel meaning the AEM could not be decoded.
const Unknown uint8 = 0xFF

// Saturated is the attenuation sentinel for a saturated radio reading (too
// close to measure) — see §9's open question on this value's dual meaning.
const Saturated uint8 = 0

// PlaintextLength is the size, in bytes, of a decrypted AEM.
const PlaintextLength = 4

// txPowerOffset is the plaintext offset of the signed transmit-power byte.
// Compatibility-critical: never move this.
const txPowerOffset = 1

// DecryptAEM decrypts a 4-byte encrypted AEM blob using aemk and the RPI it
// was broadcast alongside (the RPI doubles as the CTR IV, §4.3).
func DecryptAEM(aemk [16]byte, rpi [16]byte, encrypted [4]byte) ([PlaintextLength]byte, error) {
	plain, err := crypto.CTRKeyStreamXOR(aemk, rpi, encrypted[:])
	if err != nil {
		return [PlaintextLength]byte{}, fmt.Errorf("decrypting AEM: %w", err)
	}
	var out [PlaintextLength]byte
	copy(out[:], plain)
	return out, nil
}

// TxPower extracts the signed transmit power, in dBm, from a decrypted AEM.
func TxPower(plaintext [PlaintextLength]byte) int8 {
	return int8(plaintext[txPowerOffset])
}

// Compute derives the attenuation value, in dB, for one observation.
//
//   - ok == false (AEM could not be decrypted) => Unknown.
//   - saturated == true                        => Saturated (0).
//   - otherwise                                 => clamp(txPower-rssi, 0, 254).
func Compute(txPower int8, rssi int8, saturated bool, ok bool) uint8 {
	if !ok {
		return Unknown
	}
	if saturated {
		return Saturated
	}

	diff := int(txPower) - int(rssi)
	switch {
	case diff < 0:
		return 0
	case diff > 254:
		return 254
	default:
		return uint8(diff)
	}
}
