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

package tekfile

import (
	"bytes"
	"crypto/ecdsa"
	"testing"

	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/signing"
	"github.com/ennotif/matchcore/internal/tekpb"
)

type fixedKeyProvider struct {
	id, version string
	key         *ecdsa.PublicKey
}

func (p fixedKeyProvider) PublicKey(id, version string) (*ecdsa.PublicKey, bool) {
	if id != p.id || version != p.version {
		return nil, false
	}
	return p.key, true
}

func testBatch() *tekpb.TEKBatch {
	return &tekpb.TEKBatch{
		StartTimestamp: 1000,
		EndTimestamp:   2000,
		Region:         "US",
		BatchNum:       1,
		BatchSize:      1,
		Keys: []*tekpb.TEKRecord{
			{KeyData: bytes.Repeat([]byte{0x11}, 16), RollingStartIntervalNumber: 2650847, RollingPeriod: 144},
		},
	}
}

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	signer, err := signing.NewLocalSigner()
	if err != nil {
		t.Fatal(err)
	}

	archive, err := Marshal(testBatch(), []Signer{
		{Info: tekpb.SignatureInfo{VerificationKeyID: "key-1", VerificationKeyVersion: "v1"}, Signer: signer},
	})
	if err != nil {
		t.Fatal(err)
	}

	keys := fixedKeyProvider{id: "key-1", version: "v1", key: signer.PublicKey()}
	file, err := Unmarshal(archive, keys)
	if err != nil {
		t.Fatal(err)
	}
	if file.Batch.Region != "US" {
		t.Errorf("Region = %q, want US", file.Batch.Region)
	}
	if len(file.Batch.Keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(file.Batch.Keys))
	}
}

func TestUnmarshal_RejectsBadSignature(t *testing.T) {
	signer, err := signing.NewLocalSigner()
	if err != nil {
		t.Fatal(err)
	}
	other, err := signing.NewLocalSigner()
	if err != nil {
		t.Fatal(err)
	}

	archive, err := Marshal(testBatch(), []Signer{
		{Info: tekpb.SignatureInfo{VerificationKeyID: "key-1", VerificationKeyVersion: "v1"}, Signer: signer},
	})
	if err != nil {
		t.Fatal(err)
	}

	// keys resolves to a different public key than the one that signed.
	keys := fixedKeyProvider{id: "key-1", version: "v1", key: other.PublicKey()}
	_, err = Unmarshal(archive, keys)
	if !errorkind.Is(err, errorkind.BadFormat) {
		t.Fatalf("expected BadFormat, got %v", err)
	}
}

func TestUnmarshal_RejectsUnknownVerificationKey(t *testing.T) {
	signer, err := signing.NewLocalSigner()
	if err != nil {
		t.Fatal(err)
	}

	archive, err := Marshal(testBatch(), []Signer{
		{Info: tekpb.SignatureInfo{VerificationKeyID: "key-1", VerificationKeyVersion: "v1"}, Signer: signer},
	})
	if err != nil {
		t.Fatal(err)
	}

	keys := fixedKeyProvider{id: "key-other", version: "v1", key: signer.PublicKey()}
	_, err = Unmarshal(archive, keys)
	if !errorkind.Is(err, errorkind.NotAuthorized) {
		t.Fatalf("expected NotAuthorized, got %v", err)
	}
}

func TestUnmarshal_RejectsMissingBinaryEntry(t *testing.T) {
	_, err := Unmarshal([]byte("not a zip"), fixedKeyProvider{})
	if !errorkind.Is(err, errorkind.BadFormat) {
		t.Fatalf("expected BadFormat, got %v", err)
	}
}
