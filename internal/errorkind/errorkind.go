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

// Package errorkind defines the stable error taxonomy shared by every
// component of the matching core, so callers can branch on the kind of
// failure without depending on a specific component's error type.
package errorkind

import "fmt"

// Kind is one opaque failure category out of the core's stable taxonomy.
// Components never invent new kinds; they classify their failures into one
// of these.
type Kind string

const (
	Unknown             Kind = "unknown"
	BadParameter        Kind = "bad_parameter"
	NotEntitled         Kind = "not_entitled"
	NotAuthorized       Kind = "not_authorized"
	Unsupported         Kind = "unsupported"
	Invalidated         Kind = "invalidated"
	BluetoothOff        Kind = "bluetooth_off"
	InsufficientStorage Kind = "insufficient_storage"
	NotEnabled          Kind = "not_enabled"
	APIMisuse           Kind = "api_misuse"
	Internal            Kind = "internal"
	InsufficientMemory  Kind = "insufficient_memory"
	RateLimited         Kind = "rate_limited"
	Restricted          Kind = "restricted"
	BadFormat           Kind = "bad_format"

	// Store-specific kinds (§4.4 failure modes). They are kinds of their own:
	// Is() matches only the exact kind, so they do not also match any of the
	// kinds above. They let store callers tell them apart without
	// string-matching Op.
	Full    Kind = "full"
	Corrupt Kind = "corrupt"
	Reopen  Kind = "reopen"
	Busy    Kind = "busy"
)

// Error wraps an underlying cause with the operation that failed and the
// kind it classifies to.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a new classified error.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Is reports whether err (or any error in its chain) is an *Error of the
// given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Retryable reports whether the store should attempt a single internal
// reconnect-and-retry for this kind, per §7 propagation policy.
func Retryable(kind Kind) bool {
	return kind == Reopen || kind == Busy
}

// KindOf extracts the Kind of the first *Error in err's chain, or Unknown if
// err is nil or does not classify to a known kind.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return Unknown
		}
		err = u.Unwrap()
	}
	return Unknown
}
