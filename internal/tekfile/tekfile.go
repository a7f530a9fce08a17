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

// Package tekfile reads and writes TEK files: zip archives of an export.bin
// (a fixed 16-byte header, then the TEKBatch protobuf bytes) and
// an export.sig (a TEKSignatureList protobuf) carrying detached signatures
// over export.bin's post-header bytes.
package tekfile

import (
	"archive/zip"
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/ennotif/matchcore/internal/errorkind"
	"github.com/ennotif/matchcore/internal/tekpb"
)

const (
	binaryName    = "export.bin"
	signatureName = "export.sig"

	// maxSignatureFileSize bounds how much of export.sig is read before
	// giving up, so a malformed or hostile archive can't exhaust memory.
	maxSignatureFileSize = 64 * 1024
)

var fixedHeader = []byte("EK Export v1    ")

// PublicKeyProvider resolves the public key that should have produced the
// signature carrying the given key ID and version, so callers can rotate or
// multiply-sign without this package knowing about key management.
type PublicKeyProvider interface {
	PublicKey(verificationKeyID, verificationKeyVersion string) (*ecdsa.PublicKey, bool)
}

// File is one parsed, signature-verified TEK file.
type File struct {
	Batch      *tekpb.TEKBatch
	Signatures *tekpb.TEKSignatureList
}

// Marshal builds a TEK file archive from batch, signing its encoded bytes
// with every signer and attaching the corresponding SignatureInfo.
func Marshal(batch *tekpb.TEKBatch, signers []Signer) ([]byte, error) {
	binContents := append(append([]byte(nil), fixedHeader...), tekpb.MarshalTEKBatch(batch)...)

	var sigs []*tekpb.TEKSignature
	for _, s := range signers {
		sig, err := s.Signer.Sign(binContents[len(fixedHeader):])
		if err != nil {
			return nil, errorkind.New("tekfile.Marshal", errorkind.Internal, fmt.Errorf("signing: %w", err))
		}
		sigs = append(sigs, &tekpb.TEKSignature{
			SignatureInfo: &s.Info,
			BatchNum:      batch.BatchNum,
			BatchSize:     batch.BatchSize,
			Signature:     sig,
		})
	}
	sigContents := tekpb.MarshalTEKSignatureList(&tekpb.TEKSignatureList{Signatures: sigs})

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	if err := writeZipEntry(zw, binaryName, binContents); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, signatureName, sigContents); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, errorkind.New("tekfile.Marshal", errorkind.Internal, fmt.Errorf("closing archive: %w", err))
	}
	return buf.Bytes(), nil
}

// Signer pairs a signature producer with the SignatureInfo describing it.
type Signer struct {
	Info   tekpb.SignatureInfo
	Signer interface{ Sign([]byte) ([]byte, error) }
}

func writeZipEntry(zw *zip.Writer, name string, contents []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return errorkind.New("tekfile.Marshal", errorkind.Internal, fmt.Errorf("creating %s: %w", name, err))
	}
	if _, err := w.Write(contents); err != nil {
		return errorkind.New("tekfile.Marshal", errorkind.Internal, fmt.Errorf("writing %s: %w", name, err))
	}
	return nil
}

// Unmarshal parses a TEK file archive and verifies every signature it
// carries against keys. A failure of any single signature rejects the whole
// file: a signature that does not verify is BadFormat, and a signature whose
// key ID and version keys cannot resolve is NotAuthorized. A batch must be
// universally trusted or not trusted at all, not partially.
func Unmarshal(archive []byte, keys PublicKeyProvider) (*File, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("opening archive: %w", err))
	}

	var binContents, sigContents []byte
	for _, f := range zr.File {
		switch f.Name {
		case binaryName:
			binContents, err = readZipEntry(f, -1)
		case signatureName:
			sigContents, err = readZipEntry(f, maxSignatureFileSize)
		}
		if err != nil {
			return nil, err
		}
	}
	if binContents == nil {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("archive missing %s", binaryName))
	}
	if sigContents == nil {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("archive missing %s", signatureName))
	}

	if len(binContents) < len(fixedHeader) || !bytes.Equal(binContents[:len(fixedHeader)], fixedHeader) {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("missing or unrecognized header"))
	}
	signedContents := binContents[len(fixedHeader):]

	batch, err := tekpb.UnmarshalTEKBatch(signedContents)
	if err != nil {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("decoding batch: %w", err))
	}

	sigList, err := tekpb.UnmarshalTEKSignatureList(sigContents)
	if err != nil {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("decoding signature list: %w", err))
	}
	if len(sigList.Signatures) == 0 {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("no signatures present"))
	}

	for _, sig := range sigList.Signatures {
		if sig.SignatureInfo == nil {
			return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("signature missing signature_info"))
		}
		pub, ok := keys.PublicKey(sig.SignatureInfo.VerificationKeyID, sig.SignatureInfo.VerificationKeyVersion)
		if !ok {
			return nil, errorkind.New("tekfile.Unmarshal", errorkind.NotAuthorized,
				fmt.Errorf("unknown verification key %s/%s", sig.SignatureInfo.VerificationKeyID, sig.SignatureInfo.VerificationKeyVersion))
		}
		if !verifyASN1(pub, signedContents, sig.Signature) {
			return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("signature verification failed"))
		}
	}

	return &File{Batch: batch, Signatures: sigList}, nil
}

func verifyASN1(pub *ecdsa.PublicKey, data, sig []byte) bool {
	digest := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

func readZipEntry(f *zip.File, limit int64) ([]byte, error) {
	if limit >= 0 && f.UncompressedSize64 > uint64(limit) {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("%s exceeds %d bytes", f.Name, limit))
	}
	r, err := f.Open()
	if err != nil {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("opening %s: %w", f.Name, err))
	}
	defer r.Close()

	if limit < 0 {
		limit = 1 << 30 // generous cap for export.bin, which legitimately carries thousands of keys
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("reading %s: %w", f.Name, err))
	}
	if int64(len(data)) > limit {
		return nil, errorkind.New("tekfile.Unmarshal", errorkind.BadFormat, fmt.Errorf("%s exceeds %d bytes", f.Name, limit))
	}
	return data, nil
}
