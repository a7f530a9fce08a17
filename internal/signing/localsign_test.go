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

package signing

import "testing"

func TestLocalSigner_SignVerifyRoundTrip(t *testing.T) {
	signer, err := NewLocalSigner()
	if err != nil {
		t.Fatal(err)
	}

	data := []byte("exposure key batch contents")
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(signer.PublicKey(), data, sig) {
		t.Error("expected signature to verify")
	}
}

func TestLocalSigner_RejectsTamperedData(t *testing.T) {
	signer, err := NewLocalSigner()
	if err != nil {
		t.Fatal(err)
	}

	sig, err := signer.Sign([]byte("original"))
	if err != nil {
		t.Fatal(err)
	}

	if Verify(signer.PublicKey(), []byte("tampered"), sig) {
		t.Error("expected signature over different data to fail verification")
	}
}
