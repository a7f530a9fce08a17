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

// Package session coordinates one detection pass: it drives TEK batches
// through the matcher, exposure-info builder, and scorer, optionally caching
// the resulting ExposureInfo for paged enumeration (§4.10).
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ennotif/matchcore/internal/bloom"
	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/exposureinfo"
	"github.com/ennotif/matchcore/internal/keyschedule"
	"github.com/ennotif/matchcore/internal/matcher"
	"github.com/ennotif/matchcore/internal/scoring"
)

// state is the session's small internal state machine: Open -> Matching ->
// (Open | Closed). Starting a second match while one is in progress is an
// API-misuse error, never a silent queue.
type state int

const (
	stateOpen state = iota
	stateMatching
	stateClosed
)

// Config fixes a session's attenuation threshold, bucket thresholds, and
// scoring vectors for its lifetime.
type Config struct {
	AttenuationThreshold          uint8
	AttenuationDurationThresholds []uint8 // length 2 or 3, validated at Open
	ScoreConfiguration            scoring.Configuration
	CacheExposureInfo             bool
}

// Session coordinates one detection pass against a store.
type Session struct {
	mu     sync.Mutex
	state  state
	cfg    Config
	store  matcher.Store
	filter *bloom.Filter // optional; set once, treated as immutable thereafter
	now    func() time.Time

	cached []exposureinfo.Info
}

// Open validates cfg and returns a new session bound to store. filter may be
// nil; if non-nil it is used as a pure matching optimization for every match
// this session runs.
func Open(store matcher.Store, cfg Config, filter *bloom.Filter) (*Session, error) {
	n := len(cfg.AttenuationDurationThresholds)
	if n != 2 && n != 3 {
		return nil, errorkind.New("session.Open", errorkind.APIMisuse,
			fmt.Errorf("attenuation-duration bucket thresholds must have length 2 or 3, got %d", n))
	}
	if err := cfg.ScoreConfiguration.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		state:  stateOpen,
		cfg:    cfg,
		store:  store,
		filter: filter,
		now:    time.Now,
	}, nil
}

// Close transitions the session to Closed. A closed session may no longer
// start a match.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateClosed
}

// beginMatch transitions Open -> Matching, or fails with APIMisuse if a
// match is already in progress or the session is closed.
func (s *Session) beginMatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateMatching:
		return errorkind.New("session.beginMatch", errorkind.APIMisuse, fmt.Errorf("match already in progress"))
	case stateClosed:
		return errorkind.New("session.beginMatch", errorkind.APIMisuse, fmt.Errorf("session is closed"))
	}
	s.state = stateMatching
	return nil
}

// endMatch transitions Matching -> Open. Closed sessions stay Closed.
func (s *Session) endMatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateMatching {
		s.state = stateOpen
	}
}

// MatchCount runs a match against keys and returns only the resulting match
// count, without building ExposureInfo.
func (s *Session) MatchCount(ctx context.Context, keys []matcher.DiagnosisKey) (int, error) {
	if err := s.beginMatch(); err != nil {
		return 0, err
	}
	defer s.endMatch()

	matches, err := matcher.Run(ctx, s.store, s.filter, keys)
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// ExposureInfo runs a match against keys and builds the resulting
// ExposureInfo list. Any failure yields no partial list: the caller gets the
// error and, if CacheExposureInfo is set, the cache is left unchanged.
func (s *Session) ExposureInfo(ctx context.Context, keys []matcher.DiagnosisKey) ([]exposureinfo.Info, error) {
	if err := s.beginMatch(); err != nil {
		return nil, err
	}
	defer s.endMatch()

	matches, err := matcher.Run(ctx, s.store, s.filter, keys)
	if err != nil {
		return nil, err
	}

	lookup := func(dailyKeyIndex uint32) ([16]byte, int, bool) {
		if int(dailyKeyIndex) >= len(keys) {
			return [16]byte{}, 0, false
		}
		key := keys[dailyKeyIndex]
		aemk, derr := keyschedule.AEMK(key.TEK)
		if derr != nil {
			return [16]byte{}, 0, false
		}
		return aemk, key.TransmissionRiskLevel, true
	}

	infos, err := exposureinfo.Build(matches, lookup, s.cfg.AttenuationDurationThresholds)
	if err != nil {
		return nil, err
	}

	if s.cfg.CacheExposureInfo {
		s.mu.Lock()
		s.cached = append(s.cached, infos...)
		s.mu.Unlock()
	}
	return infos, nil
}

// Summary computes the ExposureDetectionSummary over a previously built set
// of infos, using the session's score configuration.
func (s *Session) Summary(infos []exposureinfo.Info, matchedKeys int) scoring.Summary {
	return scoring.Summarize(&s.cfg.ScoreConfiguration, infos, matchedKeys, s.now(), len(s.cfg.AttenuationDurationThresholds)+1)
}

// PageHandler is invoked once per page of cached ExposureInfo by
// EnumerateCached. A non-nil error aborts enumeration; handler never
// receives both a populated page and a non-nil error.
type PageHandler func(page []exposureinfo.Info) error

// Range selects a contiguous subset of the cache for EnumerateCached, as
// indices into cache insertion order: [Start, End). A zero-value Range
// selects the entire cache.
type Range struct {
	Start int
	End   int // exclusive; 0 means "through the end of the cache"
}

// EnumerateCached invokes handler with ordered, disjoint, contiguous batches
// of at most batchSize cached ExposureInfo entries each, covering exactly
// the requested range of the cache.
func (s *Session) EnumerateCached(handler PageHandler, rng Range, batchSize int) error {
	if batchSize <= 0 {
		return errorkind.New("session.EnumerateCached", errorkind.APIMisuse, fmt.Errorf("batchSize must be positive, got %d", batchSize))
	}
	if rng.Start < 0 || rng.End < 0 || (rng.End != 0 && rng.End < rng.Start) {
		return errorkind.New("session.EnumerateCached", errorkind.APIMisuse, fmt.Errorf("invalid range %+v", rng))
	}

	s.mu.Lock()
	snapshot := make([]exposureinfo.Info, len(s.cached))
	copy(snapshot, s.cached)
	s.mu.Unlock()

	lo, hi := rng.Start, rng.End
	if hi == 0 || hi > len(snapshot) {
		hi = len(snapshot)
	}
	if lo > hi {
		lo = hi
	}
	snapshot = snapshot[lo:hi]

	for start := 0; start < len(snapshot); start += batchSize {
		end := start + batchSize
		if end > len(snapshot) {
			end = len(snapshot)
		}
		if err := handler(snapshot[start:end]); err != nil {
			return err
		}
	}
	return nil
}
