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

// Package scoring computes per-match risk scores from configurable level
// curves and aggregates them into a session-level exposure summary (§4.9).
package scoring

import (
	"fmt"
	"time"

	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/exposureinfo"
)

// MaxRiskScore is the integer risk score ceiling (§4.9).
const MaxRiskScore = 4096

// Configuration holds the four 8-element score vectors risk scoring looks
// up into. The bucket boundaries each vector is indexed by are fixed in this
// package, not configurable.
type Configuration struct {
	AttenuationScores       [8]int // indexed by fixed attenuation buckets
	DaysSinceExposureScores [8]int
	DurationScores          [8]int // indexed by bucketed minutes
	TransmissionRiskScores  [8]int // indexed by risk level 0-8 (first 8 slots)
}

// Validate checks every score vector entry is in [0, 8], per §4.9.
func (c *Configuration) Validate() error {
	vectors := map[string][8]int{
		"attenuation":      c.AttenuationScores,
		"daysSinceExposure": c.DaysSinceExposureScores,
		"duration":         c.DurationScores,
		"transmissionRisk": c.TransmissionRiskScores,
	}
	for name, v := range vectors {
		for _, score := range v {
			if score < 0 || score > 8 {
				return errorkind.New("scoring.Configuration.Validate", errorkind.APIMisuse,
					fmt.Errorf("%s score vector entry %d out of range [0,8]", name, score))
			}
		}
	}
	return nil
}

// attenuationBucket maps an attenuation dB value onto one of the fixed eight
// scoring buckets the attenuation score vector is indexed by.
func attenuationBucket(attnValue uint8) int {
	switch {
	case attnValue == 0:
		return 7 // saturated-or-zero: treated as the closest-contact bucket
	case attnValue < 10:
		return 6
	case attnValue < 20:
		return 5
	case attnValue < 35:
		return 4
	case attnValue < 50:
		return 3
	case attnValue < 65:
		return 2
	case attnValue < 80:
		return 1
	default:
		return 0
	}
}

// durationBucket maps a duration onto one of eight scoring buckets,
// indexed by minutes.
func durationBucket(d time.Duration) int {
	minutes := int(d / time.Minute)
	switch {
	case minutes <= 0:
		return 0
	case minutes <= 5:
		return 1
	case minutes <= 10:
		return 2
	case minutes <= 15:
		return 3
	case minutes <= 20:
		return 4
	case minutes <= 25:
		return 5
	case minutes <= 30:
		return 6
	default:
		return 7
	}
}

func daysSinceBucket(days int) int {
	switch {
	case days < 0:
		return 0
	case days == 0:
		return 1
	case days <= 2:
		return 2
	case days <= 4:
		return 3
	case days <= 7:
		return 4
	case days <= 10:
		return 5
	case days <= 14:
		return 6
	default:
		return 7
	}
}

func transmissionRiskIndex(level int) int {
	if level < 0 {
		return 0
	}
	if level > 7 {
		return 7
	}
	return level
}

// Score holds one match's integer and full-range risk scores.
type Score struct {
	Integer   uint16
	FullRange float64
}

// ForMatch computes the per-match risk score for info observed daysAgo days
// before the detection's reference time, per cfg's vectors.
func ForMatch(cfg *Configuration, info exposureinfo.Info, daysAgo int) Score {
	attn := float64(cfg.AttenuationScores[attenuationBucket(info.AttenuationValue)])
	days := float64(cfg.DaysSinceExposureScores[daysSinceBucket(daysAgo)])
	dur := float64(cfg.DurationScores[durationBucket(info.Duration)])
	trl := float64(cfg.TransmissionRiskScores[transmissionRiskIndex(info.TransmissionRiskLevel)])

	product := attn * days * dur * trl

	integer := product
	if integer > MaxRiskScore {
		integer = MaxRiskScore
	}
	return Score{Integer: uint16(integer), FullRange: product}
}

// Summary aggregates per-match scores into a session-level exposure report.
type Summary struct {
	MatchedKeyCount           int
	DaysSinceLastExposure     int // -1 if no matches
	MaximumRiskScore          uint16
	MaximumRiskScoreFullRange float64
	RiskScoreSumFullRange     float64
	AttenuationDurations      []time.Duration // per-bucket sum, len == bucketCount
}

// Summarize aggregates infos into a Summary. now is the detection's
// reference instant; matchedKeys is the number of distinct TEKs that produced
// at least one match, supplied by the caller and copied into the Summary
// unchanged. bucketCount is the attenuation-duration bucket count (3 or 4,
// mirroring the thresholds length exposureinfo.Build was given).
func Summarize(cfg *Configuration, infos []exposureinfo.Info, matchedKeys int, now time.Time, bucketCount int) Summary {
	s := Summary{
		MatchedKeyCount:       matchedKeys,
		DaysSinceLastExposure: -1,
		AttenuationDurations:  make([]time.Duration, bucketCount),
	}

	for _, info := range infos {
		daysAgo := int(now.Truncate(24 * time.Hour).Sub(info.Date) / (24 * time.Hour))
		if s.DaysSinceLastExposure == -1 || daysAgo < s.DaysSinceLastExposure {
			s.DaysSinceLastExposure = daysAgo
		}

		score := ForMatch(cfg, info, daysAgo)
		if score.Integer > s.MaximumRiskScore {
			s.MaximumRiskScore = score.Integer
		}
		if score.FullRange > s.MaximumRiskScoreFullRange {
			s.MaximumRiskScoreFullRange = score.FullRange
		}
		s.RiskScoreSumFullRange += score.FullRange

		if info.AttenuationDurationIndex >= 0 && info.AttenuationDurationIndex < len(s.AttenuationDurations) {
			s.AttenuationDurations[info.AttenuationDurationIndex] += info.Duration
		}
	}
	return s
}
