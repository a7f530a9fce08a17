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

package exposureinfo

import (
	"testing"
	"time"

	"github.com/ennotif/matchcore/internal/advstore"
	"github.com/ennotif/matchcore/internal/attenuation"
	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/matcher"
)

func fixedLookup(aemk [16]byte, trl int) TEKLookup {
	return func(uint32) ([16]byte, int, bool) { return aemk, trl, true }
}

func TestBuild_RejectsBadThresholdCount(t *testing.T) {
	_, err := Build(nil, fixedLookup([16]byte{}, 0), []uint8{10, 20, 30, 40})
	if !errorkind.Is(err, errorkind.APIMisuse) {
		t.Fatalf("expected APIMisuse, got %v", err)
	}
}

func TestBuild_DurationCapping(t *testing.T) {
	m := matcher.Match{
		Advertisement: &advstore.Advertisement{ScanInterval: 3600, Timestamp: 0, Saturated: true},
	}
	infos, err := Build([]matcher.Match{m}, fixedLookup([16]byte{}, 0), []uint8{50, 70})
	if err != nil {
		t.Fatal(err)
	}
	if infos[0].Duration != DurationMax {
		t.Errorf("Duration = %v, want cap %v", infos[0].Duration, DurationMax)
	}
}

func TestBuild_SaturatedStillBucketed(t *testing.T) {
	m := matcher.Match{
		Advertisement: &advstore.Advertisement{ScanInterval: 600, Saturated: true},
	}
	infos, err := Build([]matcher.Match{m}, fixedLookup([16]byte{}, 0), []uint8{50, 70})
	if err != nil {
		t.Fatal(err)
	}
	if infos[0].AttenuationValue != attenuation.Saturated {
		t.Errorf("AttenuationValue = %d, want %d", infos[0].AttenuationValue, attenuation.Saturated)
	}
	// Saturated is a valid bucketed value (0), not the "unknown, excluded"
	// sentinel -- only an undecryptable AEM (Unknown=0xFF) is excluded.
	if infos[0].AttenuationDurationIndex < 0 {
		t.Errorf("saturated match should still land in a bucket, got index %d", infos[0].AttenuationDurationIndex)
	}
}

func TestBuild_DateIsUTCMidnight(t *testing.T) {
	ts := time.Date(2021, 3, 15, 13, 45, 0, 0, time.UTC).Unix()
	m := matcher.Match{Advertisement: &advstore.Advertisement{Timestamp: float64(ts), ScanInterval: 60}}
	infos, err := Build([]matcher.Match{m}, fixedLookup([16]byte{}, 0), []uint8{50, 70})
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2021, 3, 15, 0, 0, 0, 0, time.UTC)
	if !infos[0].Date.Equal(want) {
		t.Errorf("Date = %v, want %v", infos[0].Date, want)
	}
}
