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

package advstore

import (
	"encoding/binary"
	"math"
)

// InvalidDailyKeyIndex is the unmatched sentinel for Advertisement.DailyKeyIndex.
const InvalidDailyKeyIndex = 0xFFFFFFFF

// RecordSize is the packed, little-endian wire size of an Advertisement, per
// the on-disk and in-memory scan buffer layout. Both layouts share this
// format; compatibility across it is load-bearing.
const RecordSize = 39

// Advertisement is one observed beacon, persisted keyed on RPI.
type Advertisement struct {
	RPI           [16]byte
	EncryptedAEM  [4]byte
	Timestamp     float64 // unix seconds
	DailyKeyIndex uint32  // InvalidDailyKeyIndex until matched
	RPIIndex      uint16
	ScanInterval  uint16 // seconds
	RSSI          int8
	Saturated     bool
	Counter       uint8
	CountryCode   uint16 // ambient column, outside the wire record layout
}

// Marshal packs adv into the record layout at RecordSize bytes.
func (adv *Advertisement) Marshal() []byte {
	buf := make([]byte, RecordSize)
	copy(buf[0:16], adv.RPI[:])
	copy(buf[16:20], adv.EncryptedAEM[:])
	binary.LittleEndian.PutUint64(buf[20:28], math.Float64bits(adv.Timestamp))
	binary.LittleEndian.PutUint32(buf[28:32], adv.DailyKeyIndex)
	binary.LittleEndian.PutUint16(buf[32:34], adv.RPIIndex)
	binary.LittleEndian.PutUint16(buf[34:36], adv.ScanInterval)
	buf[36] = byte(adv.RSSI)
	if adv.Saturated {
		buf[37] = 1
	}
	buf[38] = adv.Counter
	return buf
}

// Unmarshal parses a RecordSize-byte packed Advertisement record.
func Unmarshal(buf []byte) (*Advertisement, bool) {
	if len(buf) != RecordSize {
		return nil, false
	}
	adv := &Advertisement{}
	copy(adv.RPI[:], buf[0:16])
	copy(adv.EncryptedAEM[:], buf[16:20])
	adv.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(buf[20:28]))
	adv.DailyKeyIndex = binary.LittleEndian.Uint32(buf[28:32])
	adv.RPIIndex = binary.LittleEndian.Uint16(buf[32:34])
	adv.ScanInterval = binary.LittleEndian.Uint16(buf[34:36])
	adv.RSSI = int8(buf[36])
	adv.Saturated = buf[37] != 0
	adv.Counter = buf[38]
	return adv, true
}

// Matched reports whether adv carries a daily-key-index assigned by a scan.
func (adv *Advertisement) Matched() bool {
	return adv.DailyKeyIndex != InvalidDailyKeyIndex
}

// Combine merges two observations of the same RPI per the store's invariant:
// the result inherits the earlier timestamp, sums scan intervals (saturating
// at the uint16 max), weights RSSI by scan interval, ORs saturated, and caps
// the sighting counter at 255.
func Combine(a, b *Advertisement) *Advertisement {
	out := *a
	if b.Timestamp < a.Timestamp {
		out.Timestamp = b.Timestamp
	}

	weightSum := uint32(a.ScanInterval) + uint32(b.ScanInterval)

	sum := weightSum
	if sum > 0xFFFF {
		sum = 0xFFFF
	}
	out.ScanInterval = uint16(sum)

	if weightSum > 0 {
		wa := float64(a.RSSI) * float64(a.ScanInterval)
		wb := float64(b.RSSI) * float64(b.ScanInterval)
		out.RSSI = int8((wa + wb) / float64(weightSum))
	}

	out.Saturated = a.Saturated || b.Saturated

	counter := uint16(a.Counter) + uint16(b.Counter)
	if counter > 255 {
		counter = 255
	}
	out.Counter = uint8(counter)

	return &out
}
