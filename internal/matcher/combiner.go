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

import "github.com/ennotif/matchcore/internal/advstore"

// CombineDuplicates merges match rows that share a (DailyKeyIndex, RPIIndex)
// pair. The store enforces one physical row per RPI, so this only fires
// defensively — e.g. a store bug that produced duplicate rows for the same
// slot — but the merge rule is identical to the store's own insert-time
// combine (§3).
func CombineDuplicates(matches []Match) []Match {
	if len(matches) < 2 {
		return matches
	}

	type key struct {
		d uint32
		j uint16
	}
	byKey := make(map[key]*advstore.Advertisement, len(matches))
	order := make([]key, 0, len(matches))

	for _, m := range matches {
		k := key{m.DailyKeyIndex, m.RPIIndex}
		if existing, ok := byKey[k]; ok {
			byKey[k] = advstore.Combine(existing, m.Advertisement)
			continue
		}
		byKey[k] = m.Advertisement
		order = append(order, k)
	}

	out := make([]Match, 0, len(order))
	for _, k := range order {
		out = append(out, Match{
			Advertisement: byKey[k],
			DailyKeyIndex: k.d,
			RPIIndex:      k.j,
		})
	}
	return out
}
