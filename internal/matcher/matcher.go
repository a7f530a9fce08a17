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

// Package matcher runs the bulk intersection of a generated candidate-RPI
// buffer against the advertisement store: one call to Run expands a batch
// of diagnosis keys into 144 candidate RPIs each, optionally narrows them
// through a Bloom pre-screen, and asks the store to resolve the survivors.
package matcher

import (
	"context"
	"fmt"

	"github.com/ennotif/matchcore/internal/advstore"
	"github.com/ennotif/matchcore/internal/bloom"
	"github.com/ennotif/matchcore/internal/crypto"
	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/keyschedule"
	"github.com/ennotif/matchcore/internal/logging"
)

// candidateSlot addresses one (key, interval) position in the candidate
// buffer, used to look the expected RPI back up for each row the store
// returns.
type candidateSlot struct {
	dailyKeyIndex uint32
	rpiIndex      uint16
}

// Store is the subset of *advstore.DB the matcher depends on.
type Store interface {
	ScanByRPI(ctx context.Context, candidates []advstore.Candidate) ([]*advstore.Advertisement, error)
}

// DiagnosisKey is one TEK entered into a matching pass, at its known
// position (d) within the batch; d becomes the match's daily_key_index.
type DiagnosisKey struct {
	TEK                        keyschedule.TEK
	RollingStartIntervalNumber uint32
	TransmissionRiskLevel      int
}

// Match is one confirmed hit: a store row whose RPI equals the RPI that
// DiagnosisKeys[DailyKeyIndex] produces at RPIIndex.
type Match struct {
	Advertisement *advstore.Advertisement
	DailyKeyIndex uint32
	RPIIndex      uint16
}

// Run expands keys into a candidate buffer, applies filter (if non-nil) as a
// pure optimization, and resolves survivors against store. Results are
// identical whether or not filter is supplied; filter only reduces the
// number of rows the store has to examine.
func Run(ctx context.Context, store Store, filter *bloom.Filter, keys []DiagnosisKey) ([]Match, error) {
	logger := logging.FromContext(ctx)

	candidates := make([]advstore.Candidate, 0, len(keys)*keyschedule.RollingPeriod)
	for d, key := range keys {
		rpik, err := keyschedule.RPIK(key.TEK)
		if err != nil {
			return nil, errorkind.New("matcher.Run", errorkind.Internal, fmt.Errorf("deriving RPIK for key %d: %w", d, err))
		}
		rpis, err := keyschedule.Generate144RPIs(rpik, key.RollingStartIntervalNumber)
		if err != nil {
			return nil, errorkind.New("matcher.Run", errorkind.Internal, fmt.Errorf("generating RPIs for key %d: %w", d, err))
		}

		for j := 0; j < keyschedule.RollingPeriod; j++ {
			var rpi [16]byte
			copy(rpi[:], rpis[j*16:(j+1)*16])

			valid := true
			if filter != nil {
				valid = filter.MayContain(rpi)
			}

			candidates = append(candidates, advstore.Candidate{
				RPI:           rpi,
				DailyKeyIndex: uint32(d),
				RPIIndex:      uint16(j),
				Valid:         valid,
			})
		}
	}

	liveCount := 0
	expected := make(map[candidateSlot][16]byte, len(candidates))
	for _, c := range candidates {
		if c.Valid {
			liveCount++
		}
		expected[candidateSlot{c.DailyKeyIndex, c.RPIIndex}] = c.RPI
	}
	logger.Debugw("matcher candidate buffer built", "keys", len(keys), "candidates", len(candidates), "live", liveCount)

	rows, err := store.ScanByRPI(ctx, candidates)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		want, ok := expected[candidateSlot{row.DailyKeyIndex, row.RPIIndex}]
		if !ok || !crypto.ConstantTimeEqual(want, row.RPI) {
			return nil, errorkind.New("matcher.Run", errorkind.Internal,
				fmt.Errorf("store returned row at (daily_key_index=%d, rpi_index=%d) whose RPI does not match the requested candidate", row.DailyKeyIndex, row.RPIIndex))
		}
		matches = append(matches, Match{
			Advertisement: row,
			DailyKeyIndex: row.DailyKeyIndex,
			RPIIndex:      row.RPIIndex,
		})
	}
	return CombineDuplicates(matches), nil
}
