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

package scoring

import (
	"testing"
	"time"

	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/exposureinfo"
)

func flatConfig(attn, days, dur, trl int) *Configuration {
	var cfg Configuration
	for i := 0; i < 8; i++ {
		cfg.AttenuationScores[i] = attn
		cfg.DaysSinceExposureScores[i] = days
		cfg.DurationScores[i] = dur
		cfg.TransmissionRiskScores[i] = trl
	}
	return &cfg
}

func TestSummarize_Empty(t *testing.T) {
	cfg := flatConfig(0, 0, 0, 0)
	s := Summarize(cfg, nil, 0, time.Now(), 3)
	if s.MatchedKeyCount != 0 || s.DaysSinceLastExposure != -1 {
		t.Fatalf("got %+v, want zero summary with DaysSinceLastExposure=-1", s)
	}
	if s.MaximumRiskScore != 0 || s.RiskScoreSumFullRange != 0 {
		t.Fatalf("got %+v, want all sums zero", s)
	}
}

func TestSummarize_SinglePerfectMatch(t *testing.T) {
	cfg := flatConfig(6, 7, 3, 4)
	now := time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC)
	info := exposureinfo.Info{
		Date:                     now, // same day => daysAgo = 0
		Duration:                 600 * time.Second,
		AttenuationValue:         40,
		AttenuationDurationIndex: 0,
		TransmissionRiskLevel:    3,
	}
	s := Summarize(cfg, []exposureinfo.Info{info}, 1, now, 3)

	if s.MatchedKeyCount != 1 {
		t.Errorf("MatchedKeyCount = %d, want 1", s.MatchedKeyCount)
	}
	if s.MaximumRiskScore != 504 {
		t.Errorf("MaximumRiskScore = %d, want 504", s.MaximumRiskScore)
	}
	if s.AttenuationDurations[0] != 600*time.Second {
		t.Errorf("AttenuationDurations[0] = %v, want 600s", s.AttenuationDurations[0])
	}
	if s.AttenuationDurations[1] != 0 || s.AttenuationDurations[2] != 0 {
		t.Errorf("expected buckets 1,2 to be zero, got %v", s.AttenuationDurations)
	}
}

func TestSummarize_TwoDaysPickMaxAndMin(t *testing.T) {
	cfg := flatConfig(1, 1, 1, 1)
	now := time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC)

	near := exposureinfo.Info{Date: now.AddDate(0, 0, -3), Duration: time.Minute, AttenuationDurationIndex: 0}
	far := exposureinfo.Info{Date: now.AddDate(0, 0, -10), Duration: time.Minute, AttenuationDurationIndex: 0}

	s := Summarize(cfg, []exposureinfo.Info{near, far}, 2, now, 3)
	if s.DaysSinceLastExposure != 3 {
		t.Errorf("DaysSinceLastExposure = %d, want 3", s.DaysSinceLastExposure)
	}
	// Each match scores 1*1*1*1 = 1 under the flat config.
	if s.MaximumRiskScore != 1 {
		t.Errorf("MaximumRiskScore = %d, want 1", s.MaximumRiskScore)
	}
	if s.RiskScoreSumFullRange != 2 {
		t.Errorf("RiskScoreSumFullRange = %v, want 2", s.RiskScoreSumFullRange)
	}
}

func TestConfiguration_Validate_RejectsOutOfRangeScores(t *testing.T) {
	cfg := flatConfig(9, 0, 0, 0)
	if err := cfg.Validate(); !errorkind.Is(err, errorkind.APIMisuse) {
		t.Fatalf("expected APIMisuse for out-of-range score, got %v", err)
	}
}

func TestConfiguration_Validate_AcceptsInRangeScores(t *testing.T) {
	cfg := flatConfig(8, 0, 8, 0)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
