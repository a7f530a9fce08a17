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
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/ennotif/matchcore/internal/bloom"
	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/logging"
)

// rollingPeriod mirrors internal/keyschedule.RollingPeriod without importing
// it, so advstore has no dependency on the crypto packages; it only needs the
// constant to translate a buffer slot into (dailyKeyIndex, rpiIndex).
const rollingPeriod = 144

// Insert appends adv, combining it into the existing row with the same RPI
// per the store's merge invariant (§3) when one is already present.
func (db *DB) Insert(ctx context.Context, adv *Advertisement) error {
	return db.retryable(ctx, logging.FromContext(ctx), func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT encrypted_aem, ts, scan_interval, rssi, saturated, counter
			FROM advertisements WHERE rpi = $1 FOR UPDATE`, adv.RPI[:])

		var existing Advertisement
		existing.RPI = adv.RPI
		var encAEM []byte
		err := row.Scan(&encAEM, &existing.Timestamp, &existing.ScanInterval, &existing.RSSI, &existing.Saturated, &existing.Counter)
		switch {
		case err == pgx.ErrNoRows:
			_, err := tx.Exec(ctx, `
				INSERT INTO advertisements
					(rpi, encrypted_aem, ts, daily_key_index, rpi_index, scan_interval, rssi, saturated, country_code, counter)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				adv.RPI[:], adv.EncryptedAEM[:], adv.Timestamp, int64(int32(adv.DailyKeyIndex)), int32(adv.RPIIndex),
				int32(adv.ScanInterval), int32(adv.RSSI), adv.Saturated, int32(adv.CountryCode), int32(adv.Counter))
			if err != nil {
				return errorkind.New("advstore.Insert", errorkind.Internal, fmt.Errorf("inserting new row: %w", err))
			}
			return nil
		case err != nil:
			return errorkind.New("advstore.Insert", errorkind.Internal, fmt.Errorf("reading existing row: %w", err))
		}
		copy(existing.EncryptedAEM[:], encAEM)

		merged := Combine(&existing, adv)
		_, err = tx.Exec(ctx, `
			UPDATE advertisements
			SET ts = $2, scan_interval = $3, rssi = $4, saturated = $5, counter = $6
			WHERE rpi = $1`,
			adv.RPI[:], merged.Timestamp, int32(merged.ScanInterval), int32(merged.RSSI), merged.Saturated, int32(merged.Counter))
		if err != nil {
			return errorkind.New("advstore.Insert", errorkind.Internal, fmt.Errorf("updating combined row: %w", err))
		}
		return nil
	})
}

// Count returns the number of stored rows, or ok=false if the store is
// transiently unreadable.
func (db *DB) Count(ctx context.Context) (count uint64, ok bool) {
	var n int64
	err := db.pool.QueryRow(ctx, `SELECT count(*) FROM advertisements`).Scan(&n)
	if err != nil {
		logging.FromContext(ctx).Warnw("count query failed", "error", err)
		return 0, false
	}
	return uint64(n), true
}

// Candidate is one slot in the matcher's linear candidate-RPI buffer: the RPI
// generated from (TEK at index DailyKeyIndex, interval RPIIndex within that
// TEK's day), plus whether the matcher still considers the slot live after
// its own Bloom pre-screen.
type Candidate struct {
	RPI           [16]byte
	DailyKeyIndex uint32
	RPIIndex      uint16
	Valid         bool
}

// ScanByRPI matches candidates against stored rows via a single relational
// join: the valid candidates are passed as parallel rpi[]/slot[] array
// parameters, unnested, and joined against advertisements on the indexed RPI
// prefix, re-checking full 16-byte equality in the join condition; invalid
// candidates are left out before the query. Matching rows carry
// DailyKeyIndex/RPIIndex populated from the *candidate's* slot, per the
// store's contract — the candidate buffer is ground truth for those two
// fields, not whatever the store physically had stored in them.
func (db *DB) ScanByRPI(ctx context.Context, candidates []Candidate) ([]*Advertisement, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	rpis := make([][]byte, 0, len(candidates))
	slots := make([]int64, 0, len(candidates))
	slotOf := make(map[int64]Candidate, len(candidates))
	for _, c := range candidates {
		if !c.Valid {
			continue
		}
		slot := int64(c.DailyKeyIndex)*rollingPeriod + int64(c.RPIIndex)
		rpis = append(rpis, append([]byte(nil), c.RPI[:]...))
		slots = append(slots, slot)
		slotOf[slot] = c
	}
	if len(rpis) == 0 {
		return nil, nil
	}

	var out []*Advertisement
	err := db.retryable(ctx, logging.FromContext(ctx), func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT a.rpi, a.encrypted_aem, a.ts, a.scan_interval, a.rssi, a.saturated, a.counter, c.slot
			FROM unnest($1::bytea[], $2::bigint[]) AS c(rpi, slot)
			JOIN advertisements a
			  ON substr(a.rpi, 1, 8) = substr(c.rpi, 1, 8)
			 AND a.rpi = c.rpi`, rpis, slots)
		if err != nil {
			return errorkind.New("advstore.ScanByRPI", errorkind.Internal, fmt.Errorf("scan query: %w", err))
		}
		defer rows.Close()

		for rows.Next() {
			var (
				adv    Advertisement
				encAEM []byte
				slot   int64
			)
			if err := rows.Scan(&adv.RPI, &encAEM, &adv.Timestamp, &adv.ScanInterval, &adv.RSSI, &adv.Saturated, &adv.Counter, &slot); err != nil {
				return errorkind.New("advstore.ScanByRPI", errorkind.Internal, fmt.Errorf("scanning row: %w", err))
			}
			copy(adv.EncryptedAEM[:], encAEM)

			c, ok := slotOf[slot]
			if !ok {
				continue
			}
			adv.DailyKeyIndex = c.DailyKeyIndex
			adv.RPIIndex = c.RPIIndex
			out = append(out, &adv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BuildQueryFilter walks every stored row whose precomputed attenuation
// proxy (RSSI above threshold, or saturated) would pass an attenuation
// pre-screen, and seals a new Bloom filter over their RPIs.
func (db *DB) BuildQueryFilter(ctx context.Context, sizeBytes, hashCount int, attenuationThreshold uint8) (*bloom.Filter, error) {
	f, err := bloom.New(sizeBytes, hashCount)
	if err != nil {
		return nil, errorkind.New("advstore.BuildQueryFilter", errorkind.BadParameter, err)
	}

	// RSSI is dBm, so more negative is weaker; the threshold is an attenuation
	// cutoff expressed as a positive magnitude, hence the sign flip.
	rows, err := db.pool.Query(ctx, `
		SELECT rpi FROM advertisements
		WHERE saturated OR rssi > $1`, -int32(attenuationThreshold))
	if err != nil {
		return nil, errorkind.New("advstore.BuildQueryFilter", errorkind.Internal, fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var rpi []byte
		if err := rows.Scan(&rpi); err != nil {
			return nil, errorkind.New("advstore.BuildQueryFilter", errorkind.Internal, fmt.Errorf("scan: %w", err))
		}
		var key [16]byte
		copy(key[:], rpi)
		f.Add(key)
	}
	if err := rows.Err(); err != nil {
		return nil, errorkind.New("advstore.BuildQueryFilter", errorkind.Internal, fmt.Errorf("row iteration: %w", err))
	}
	return f, nil
}
