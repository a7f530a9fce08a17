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

// Package exposureinfo turns confirmed matches into the per-day exposure
// records the scoring stage aggregates (§4.8).
package exposureinfo

import (
	"fmt"
	"time"

	"github.com/ennotif/matchcore/internal/attenuation"
	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/matcher"
)

const (
	// DurationIncrement is the granularity ExposureInfo.Duration is rounded
	// down to.
	DurationIncrement = 60 * time.Second
	// DurationMax is the cap placed on a single match's reported duration.
	DurationMax = 30 * time.Minute
)

// Info is one matched beacon's contribution to scoring: date, duration,
// attenuation, its bucket, and the transmission risk level of the TEK that
// produced it.
type Info struct {
	Date                     time.Time // UTC midnight
	Duration                 time.Duration
	AttenuationValue         uint8 // attenuation.Unknown (0xFF) if undecryptable
	AttenuationDurationIndex int   // which bucket Duration was placed into
	TransmissionRiskLevel    int
}

// TEKLookup resolves the diagnosis key that produced a match, by its daily
// key index within the batch being matched.
type TEKLookup func(dailyKeyIndex uint32) (aemk [16]byte, transmissionRiskLevel int, ok bool)

// Build turns matches into Info records. thresholds must have length 2 or 3
// (validated per §4.8); a violation is APIMisuse, consistent with the bucket
// configuration being a caller programming error rather than bad data.
func Build(matches []matcher.Match, lookup TEKLookup, thresholds []uint8) ([]Info, error) {
	if len(thresholds) != 2 && len(thresholds) != 3 {
		return nil, errorkind.New("exposureinfo.Build", errorkind.APIMisuse,
			fmt.Errorf("attenuation-duration bucket thresholds must have length 2 or 3, got %d", len(thresholds)))
	}

	out := make([]Info, 0, len(matches))
	for _, m := range matches {
		aemk, trl, ok := lookup(m.DailyKeyIndex)
		if !ok {
			return nil, errorkind.New("exposureinfo.Build", errorkind.Internal,
				fmt.Errorf("no diagnosis key for daily key index %d", m.DailyKeyIndex))
		}

		plain, decErr := attenuation.DecryptAEM(aemk, m.Advertisement.RPI, m.Advertisement.EncryptedAEM)
		attnValue := attenuation.Compute(attenuation.TxPower(plain), m.Advertisement.RSSI, m.Advertisement.Saturated, decErr == nil)

		duration := capDuration(m.Advertisement.ScanInterval)
		date := time.Unix(int64(m.Advertisement.Timestamp), 0).UTC().Truncate(24 * time.Hour)

		info := Info{
			Date:                  date,
			Duration:              duration,
			AttenuationValue:      attnValue,
			TransmissionRiskLevel: trl,
		}
		if attnValue != attenuation.Unknown {
			info.AttenuationDurationIndex = bucketOf(attnValue, thresholds)
		} else {
			info.AttenuationDurationIndex = -1
		}
		out = append(out, info)
	}
	return out, nil
}

// capDuration rounds down to DurationIncrement and caps at DurationMax.
func capDuration(scanIntervalSeconds uint16) time.Duration {
	d := time.Duration(scanIntervalSeconds) * time.Second
	d = d / DurationIncrement * DurationIncrement
	if d > DurationMax {
		d = DurationMax
	}
	return d
}

// bucketOf places an attenuation value into one of len(thresholds)+1 buckets:
// (a <= t0), (t0 < a <= t1), (t1 < a <= t2)?, (a > last threshold).
func bucketOf(attnValue uint8, thresholds []uint8) int {
	for i, t := range thresholds {
		if attnValue <= t {
			return i
		}
	}
	return len(thresholds)
}
