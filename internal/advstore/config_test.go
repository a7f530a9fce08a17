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
	"net/url"
	"testing"
)

func TestConfig_MigrationURL_HasPostgresScheme(t *testing.T) {
	cfg := &Config{
		Name:     "matchcore",
		User:     "app",
		Password: "s3cr3t",
		Host:     "db.internal",
		Port:     "5432",
		SSLMode:  "require",
	}

	raw := cfg.MigrationURL()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	if u.Scheme != "postgres" {
		t.Errorf("scheme = %q, want %q", u.Scheme, "postgres")
	}
	if u.Host != "db.internal:5432" {
		t.Errorf("host = %q, want %q", u.Host, "db.internal:5432")
	}
	if u.Path != "/matchcore" {
		t.Errorf("path = %q, want %q", u.Path, "/matchcore")
	}
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Errorf("sslmode = %q, want %q", got, "require")
	}
	if pw, ok := u.User.Password(); !ok || pw != "s3cr3t" {
		t.Errorf("password = %q, ok=%v, want %q", pw, ok, "s3cr3t")
	}
}

func TestConfig_MigrationURL_EscapesSpecialCharacters(t *testing.T) {
	cfg := &Config{
		Name:     "matchcore",
		User:     "app",
		Password: "p@ss/word?",
		Host:     "localhost",
		Port:     "5432",
		SSLMode:  "disable",
	}

	raw := cfg.MigrationURL()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	if pw, ok := u.User.Password(); !ok || pw != "p@ss/word?" {
		t.Errorf("password = %q, ok=%v, want %q", pw, ok, "p@ss/word?")
	}
}
