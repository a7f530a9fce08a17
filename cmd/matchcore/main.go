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

// This binary runs one exposure detection pass: it reads TEK files given on
// the command line, matches them against the advertisement store, and
// prints the resulting exposure summary as JSON.
package main

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/sethvargo/go-envconfig"

	"github.com/ennotif/matchcore/internal/advstore"
	"github.com/ennotif/matchcore/internal/keyschedule"
	"github.com/ennotif/matchcore/internal/logging"
	"github.com/ennotif/matchcore/internal/matcher"
	"github.com/ennotif/matchcore/internal/scoring"
	"github.com/ennotif/matchcore/internal/session"
	"github.com/ennotif/matchcore/internal/signing"
	"github.com/ennotif/matchcore/internal/tekfile"
)

// Config is the process-wide environment configuration: the advertisement
// store's connection settings plus this binary's own detection knobs.
type Config struct {
	Store                         advstore.Config
	AttenuationThreshold          uint8   `env:"ATTENUATION_THRESHOLD,default=70"`
	AttenuationDurationThresholds []uint8 `env:"ATTENUATION_DURATION_THRESHOLDS,default=50,70"`
	VerificationPublicKeyFile     string  `env:"VERIFICATION_PUBLIC_KEY_FILE"`
	VerificationKeyID             string  `env:"VERIFICATION_KEY_ID,default=matchcore-v1"`
	VerificationKeyVersion        string  `env:"VERIFICATION_KEY_VERSION,default=v1"`

	// Score vectors, each indexed by one of the 8 fixed buckets §4.9 defines.
	// The defaults mirror the reference weighting the exposure notification
	// clients shipped with: attenuation and duration dominate, transmission
	// risk and days-since-exposure contribute less.
	AttenuationScores       []int `env:"ATTENUATION_SCORES,default=0,0,0,1,3,5,6,8"`
	DaysSinceExposureScores []int `env:"DAYS_SINCE_EXPOSURE_SCORES,default=1,1,1,2,3,4,5,6"`
	DurationScores          []int `env:"DURATION_SCORES,default=0,1,1,2,3,4,6,8"`
	TransmissionRiskScores  []int `env:"TRANSMISSION_RISK_SCORES,default=0,1,2,3,4,5,6,7"`
}

// scoreVector copies a decoded score slice into the fixed [8]int shape
// scoring.Configuration requires.
func scoreVector(name string, values []int) ([8]int, error) {
	var out [8]int
	if len(values) != len(out) {
		return out, fmt.Errorf("%s must have exactly %d entries, got %d", name, len(out), len(values))
	}
	copy(out[:], values)
	return out, nil
}

func main() {
	ctx, done := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	logger := logging.DefaultLogger()
	ctx = logging.WithLogger(ctx, logger)

	defer func() {
		done()
		if r := recover(); r != nil {
			logger.Fatalw("application panic", "panic", r)
		}
	}()

	if err := realMain(ctx); err != nil {
		done()
		logger.Fatal(err)
	}
	done()
	logger.Info("successful shutdown")
}

func realMain(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	var config Config
	if err := envconfig.Process(ctx, &config); err != nil {
		return fmt.Errorf("envconfig.Process: %w", err)
	}

	db, err := advstore.New(ctx, &config.Store)
	if err != nil {
		return fmt.Errorf("advstore.New: %w", err)
	}
	defer db.Close(ctx)

	if err := db.Migrate(&config.Store); err != nil {
		return fmt.Errorf("advstore.Migrate: %w", err)
	}

	// The filter holds only the stored rows that pass the attenuation-threshold
	// pre-screen (RSSI above -AttenuationThreshold, or saturated). Candidates
	// it rejects are dropped before the scan, so stored rows below the
	// threshold never match in this run.
	filter, err := db.BuildQueryFilter(ctx, 1<<16, 6, config.AttenuationThreshold)
	if err != nil {
		return fmt.Errorf("advstore.BuildQueryFilter: %w", err)
	}

	attnScores, err := scoreVector("ATTENUATION_SCORES", config.AttenuationScores)
	if err != nil {
		return err
	}
	daysScores, err := scoreVector("DAYS_SINCE_EXPOSURE_SCORES", config.DaysSinceExposureScores)
	if err != nil {
		return err
	}
	durationScores, err := scoreVector("DURATION_SCORES", config.DurationScores)
	if err != nil {
		return err
	}
	riskScores, err := scoreVector("TRANSMISSION_RISK_SCORES", config.TransmissionRiskScores)
	if err != nil {
		return err
	}
	scoreCfg := scoring.Configuration{
		AttenuationScores:       attnScores,
		DaysSinceExposureScores: daysScores,
		DurationScores:          durationScores,
		TransmissionRiskScores:  riskScores,
	}
	sess, err := session.Open(db, session.Config{
		AttenuationThreshold:          config.AttenuationThreshold,
		AttenuationDurationThresholds: config.AttenuationDurationThresholds,
		ScoreConfiguration:            scoreCfg,
		CacheExposureInfo:             true,
	}, filter)
	if err != nil {
		return fmt.Errorf("session.Open: %w", err)
	}
	defer sess.Close()

	keys, err := loadDiagnosisKeys(config, os.Args[1:])
	if err != nil {
		return fmt.Errorf("loadDiagnosisKeys: %w", err)
	}
	logger.Infow("loaded diagnosis keys", "count", len(keys))

	infos, err := sess.ExposureInfo(ctx, keys)
	if err != nil {
		return fmt.Errorf("session.ExposureInfo: %w", err)
	}

	summary := sess.Summary(infos, len(keys))
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// staticKeyProvider resolves a single verification key, matching the single
// active signing key this binary's configuration exposes.
type staticKeyProvider struct {
	id, version string
	key         *ecdsa.PublicKey
}

func (p staticKeyProvider) PublicKey(id, version string) (*ecdsa.PublicKey, bool) {
	if id != p.id || version != p.version {
		return nil, false
	}
	return p.key, true
}

func loadDiagnosisKeys(config Config, paths []string) ([]matcher.DiagnosisKey, error) {
	if config.VerificationPublicKeyFile == "" {
		return nil, fmt.Errorf("VERIFICATION_PUBLIC_KEY_FILE is required")
	}
	pemBytes, err := os.ReadFile(config.VerificationPublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading verification key: %w", err)
	}
	pub, err := signing.PublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing verification key: %w", err)
	}
	keys := staticKeyProvider{id: config.VerificationKeyID, version: config.VerificationKeyVersion, key: pub}

	var out []matcher.DiagnosisKey
	var loadErrs *multierror.Error
	for _, path := range paths {
		archive, err := os.ReadFile(path)
		if err != nil {
			loadErrs = multierror.Append(loadErrs, fmt.Errorf("reading %s: %w", path, err))
			continue
		}
		f, err := tekfile.Unmarshal(archive, keys)
		if err != nil {
			// A malformed or unverifiable batch aborts only itself; prior
			// and subsequent batches in the same run are unaffected.
			loadErrs = multierror.Append(loadErrs, fmt.Errorf("unmarshaling %s: %w", path, err))
			continue
		}
		for _, rec := range f.Batch.Keys {
			var tek keyschedule.TEK
			copy(tek[:], rec.KeyData)
			out = append(out, matcher.DiagnosisKey{
				TEK:                        tek,
				RollingStartIntervalNumber: uint32(rec.RollingStartIntervalNumber),
				TransmissionRiskLevel:      int(rec.TransmissionRiskLevel),
			})
		}
	}
	if len(out) == 0 && loadErrs.ErrorOrNil() != nil {
		return nil, loadErrs
	}
	if loadErrs.ErrorOrNil() != nil {
		logging.DefaultLogger().Warnw("some TEK files failed to load", "error", loadErrs)
	}
	return out, nil
}
