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

package matcher

import (
	"context"
	"testing"

	"github.com/ennotif/matchcore/internal/advstore"
	"github.com/ennotif/matchcore/internal/bloom"
	"github.com/ennotif/matchcore/internal/keyschedule"
)

// fakeStore resolves candidates by checking them against a fixed set of
// known RPIs, mimicking the store's scan_by_rpi contract without a database.
type fakeStore struct {
	known map[[16]byte]*advstore.Advertisement
	calls int
}

func (s *fakeStore) ScanByRPI(_ context.Context, candidates []advstore.Candidate) ([]*advstore.Advertisement, error) {
	s.calls++
	var out []*advstore.Advertisement
	for _, c := range candidates {
		if !c.Valid {
			continue
		}
		if adv, ok := s.known[c.RPI]; ok {
			cp := *adv
			cp.DailyKeyIndex = c.DailyKeyIndex
			cp.RPIIndex = c.RPIIndex
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestRun_FindsPlantedMatch(t *testing.T) {
	var tek keyschedule.TEK
	copy(tek[:], []byte("0123456789abcdef"))

	rpik, err := keyschedule.RPIK(tek)
	if err != nil {
		t.Fatal(err)
	}
	targetRPI, err := keyschedule.RPI(rpik, 1000)
	if err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{known: map[[16]byte]*advstore.Advertisement{
		targetRPI: {RPI: targetRPI, ScanInterval: 300, RSSI: -50},
	}}

	keys := []DiagnosisKey{{TEK: tek, RollingStartIntervalNumber: 1000 - (1000 % keyschedule.RollingPeriod)}}

	matches, err := Run(context.Background(), store, nil, keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].DailyKeyIndex != 0 {
		t.Errorf("DailyKeyIndex = %d, want 0", matches[0].DailyKeyIndex)
	}
}

func TestRun_NoMatchWithoutPlantedRPI(t *testing.T) {
	var tek keyschedule.TEK
	copy(tek[:], []byte("fedcba9876543210"))

	store := &fakeStore{known: map[[16]byte]*advstore.Advertisement{}}
	keys := []DiagnosisKey{{TEK: tek, RollingStartIntervalNumber: 0}}

	matches, err := Run(context.Background(), store, nil, keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("got %d matches, want 0", len(matches))
	}
}

func TestRun_FilterIsPureOptimization(t *testing.T) {
	var tek keyschedule.TEK
	copy(tek[:], []byte("0123456789abcdef"))

	rpik, err := keyschedule.RPIK(tek)
	if err != nil {
		t.Fatal(err)
	}
	targetRPI, err := keyschedule.RPI(rpik, 0)
	if err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{known: map[[16]byte]*advstore.Advertisement{
		targetRPI: {RPI: targetRPI, ScanInterval: 60, RSSI: -40},
	}}
	keys := []DiagnosisKey{{TEK: tek, RollingStartIntervalNumber: 0}}

	withoutFilter, err := Run(context.Background(), store, nil, keys)
	if err != nil {
		t.Fatal(err)
	}

	filter, err := bloom.New(1024, 5)
	if err != nil {
		t.Fatal(err)
	}
	filter.Add(targetRPI)

	withFilter, err := Run(context.Background(), store, filter, keys)
	if err != nil {
		t.Fatal(err)
	}

	if len(withFilter) != len(withoutFilter) {
		t.Fatalf("filtered run returned %d matches, unfiltered returned %d", len(withFilter), len(withoutFilter))
	}
}

func TestCombineDuplicates_MergesSameSlot(t *testing.T) {
	a := &advstore.Advertisement{RPI: [16]byte{1}, Timestamp: 100, ScanInterval: 60, RSSI: -40, Counter: 1}
	b := &advstore.Advertisement{RPI: [16]byte{1}, Timestamp: 50, ScanInterval: 60, RSSI: -60, Counter: 1}

	matches := []Match{
		{Advertisement: a, DailyKeyIndex: 2, RPIIndex: 7},
		{Advertisement: b, DailyKeyIndex: 2, RPIIndex: 7},
	}

	out := CombineDuplicates(matches)
	if len(out) != 1 {
		t.Fatalf("got %d merged matches, want 1", len(out))
	}
	if out[0].Advertisement.Timestamp != 50 {
		t.Errorf("merged timestamp = %v, want earlier value 50", out[0].Advertisement.Timestamp)
	}
	if out[0].Advertisement.ScanInterval != 120 {
		t.Errorf("merged scan interval = %d, want 120", out[0].Advertisement.ScanInterval)
	}
}
