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

// Package signing produces and verifies detached signatures over TEK file
// contents.
package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// LocalSigner signs TEK batch bytes with an in-memory P-256 private key. It
// exists to produce signed fixtures for tests and local runs; a production
// deployment would swap this for a KMS-backed crypto.Signer behind the same
// Sign method.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

// NewLocalSigner generates a fresh P-256 signing key.
func NewLocalSigner() (*LocalSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generating key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

// NewLocalSignerFromPEM loads a PKCS#8 or SEC1 EC private key from PEM bytes.
func NewLocalSignerFromPEM(pemBytes []byte) (*LocalSigner, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("signing: no PEM block found")
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return &LocalSigner{key: key}, nil
	}

	generic, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parsing private key: %w", err)
	}
	key, ok := generic.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing: private key is not ECDSA")
	}
	return &LocalSigner{key: key}, nil
}

// Sign returns an ASN.1 DER-encoded ECDSA signature over the SHA-256 digest
// of data, matching the encoding ecdsa.VerifyASN1 expects.
func (ls *LocalSigner) Sign(data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, ls.key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing: sign: %w", err)
	}
	return sig, nil
}

// PublicKey returns the public half of the signing key, suitable for
// embedding in a PublicKeyProvider.
func (ls *LocalSigner) PublicKey() *ecdsa.PublicKey {
	return &ls.key.PublicKey
}

// PublicKeyFromPEM parses a PKIX-encoded EC public key from PEM bytes.
func PublicKeyFromPEM(pemBytes []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("signing: no PEM block found")
	}
	generic, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("signing: parsing public key: %w", err)
	}
	key, ok := generic.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing: public key is not ECDSA")
	}
	return key, nil
}

// Verify reports whether sig is a valid ASN.1 DER ECDSA signature over the
// SHA-256 digest of data under pub.
func Verify(pub *ecdsa.PublicKey, data, sig []byte) bool {
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
