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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAdvertisement_MarshalUnmarshalRoundTrip(t *testing.T) {
	want := &Advertisement{
		Timestamp:     1234567.5,
		DailyKeyIndex: 7,
		RPIIndex:      42,
		ScanInterval:  60,
		RSSI:          -55,
		Saturated:     true,
		Counter:       3,
	}
	copy(want.RPI[:], []byte("0123456789abcdef"))
	copy(want.EncryptedAEM[:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	buf := want.Marshal()
	if len(buf) != RecordSize {
		t.Fatalf("Marshal produced %d bytes, want %d", len(buf), RecordSize)
	}

	got, ok := Unmarshal(buf)
	if !ok {
		t.Fatal("Unmarshal reported failure on a well-formed buffer")
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestUnmarshal_RejectsShortBuffer(t *testing.T) {
	if _, ok := Unmarshal(make([]byte, RecordSize-1)); ok {
		t.Error("expected Unmarshal to reject a short buffer")
	}
}

func TestCombine_EarlierTimestampAndSummedCounters(t *testing.T) {
	var rpi [16]byte
	copy(rpi[:], []byte("0123456789abcdef"))

	a := &Advertisement{RPI: rpi, Timestamp: 100, ScanInterval: 60, RSSI: -40, Counter: 1}
	b := &Advertisement{RPI: rpi, Timestamp: 50, ScanInterval: 120, RSSI: -60, Counter: 2}

	merged := Combine(a, b)
	if merged.Timestamp != 50 {
		t.Errorf("Timestamp = %v, want earlier value 50", merged.Timestamp)
	}
	if merged.Counter != 3 {
		t.Errorf("Counter = %d, want 3", merged.Counter)
	}
	if merged.ScanInterval != 180 {
		t.Errorf("ScanInterval = %d, want 180", merged.ScanInterval)
	}
}

func TestCombine_SaturationIsSticky(t *testing.T) {
	var rpi [16]byte
	copy(rpi[:], []byte("0123456789abcdef"))

	a := &Advertisement{RPI: rpi, ScanInterval: 60, Saturated: true}
	b := &Advertisement{RPI: rpi, ScanInterval: 60, Saturated: false}

	if merged := Combine(a, b); !merged.Saturated {
		t.Error("expected Combine to OR the saturated flag")
	}
}

func TestCombine_CounterCapsAt255(t *testing.T) {
	var rpi [16]byte
	copy(rpi[:], []byte("0123456789abcdef"))

	a := &Advertisement{RPI: rpi, ScanInterval: 60, Counter: 200}
	b := &Advertisement{RPI: rpi, ScanInterval: 60, Counter: 200}

	if merged := Combine(a, b); merged.Counter != 255 {
		t.Errorf("Counter = %d, want 255", merged.Counter)
	}
}
