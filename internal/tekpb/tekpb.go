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

// Package tekpb hand-encodes the two protobuf messages carried inside a TEK
// file (export.bin's TEKBatch, export.sig's TEKSignatureList) directly
// against the low-level google.golang.org/protobuf/encoding/protowire
// primitives, rather than against protoc-generated message types. See
// DESIGN.md for why: this repo has no protoc toolchain available to keep a
// checked-in .pb.go in sync with its descriptor bytes.
package tekpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, fixed by this package's own wire contract (not derived from
// any .proto source, since none is compiled here).
const (
	tekFieldKeyData                = protowire.Number(1)
	tekFieldTransmissionRiskLevel   = protowire.Number(2)
	tekFieldRollingStartIntervalNum = protowire.Number(3)
	tekFieldRollingPeriod           = protowire.Number(4)
	tekFieldReportType              = protowire.Number(5)

	batchFieldStartTimestamp = protowire.Number(1)
	batchFieldEndTimestamp   = protowire.Number(2)
	batchFieldRegion         = protowire.Number(3)
	batchFieldBatchNum       = protowire.Number(4)
	batchFieldBatchSize      = protowire.Number(5)
	batchFieldPKVers         = protowire.Number(6)
	batchFieldKeys           = protowire.Number(7)

	sigInfoFieldVerificationKeyVersion = protowire.Number(1)
	sigInfoFieldVerificationKeyID      = protowire.Number(2)
	sigInfoFieldSignatureAlgorithm     = protowire.Number(3)

	sigFieldSignatureInfo    = protowire.Number(1)
	sigFieldBatchNum         = protowire.Number(2)
	sigFieldBatchSize        = protowire.Number(3)
	sigFieldSignature        = protowire.Number(4)
	sigFieldAppleBundleID    = protowire.Number(5)
	sigFieldAndroidBundleID  = protowire.Number(6)

	sigListFieldSignatures = protowire.Number(1)
)

// TEKRecord is one diagnosis key entry in a TEKBatch.
type TEKRecord struct {
	KeyData                    []byte
	TransmissionRiskLevel      int32
	RollingStartIntervalNumber int32
	RollingPeriod              int32
	ReportType                 int32
}

// TEKBatch is the message carried inside export.bin, right after the fixed
// header and with no length prefix of its own.
type TEKBatch struct {
	StartTimestamp int64
	EndTimestamp   int64
	Region         string
	BatchNum       int32
	BatchSize      int32
	PKVers         string
	Keys           []*TEKRecord
}

// SignatureInfo names the key and algorithm a TEKSignature was produced with.
type SignatureInfo struct {
	VerificationKeyVersion string
	VerificationKeyID      string
	SignatureAlgorithm     string
}

// TEKSignature is one detached signature over a TEKBatch's encoded bytes.
type TEKSignature struct {
	SignatureInfo   *SignatureInfo
	BatchNum        int32
	BatchSize       int32
	Signature       []byte
	AppleBundleID   string
	AndroidBundleID string
}

// TEKSignatureList is the message that makes up the whole of export.sig, with
// no length prefix.
type TEKSignatureList struct {
	Signatures []*TEKSignature
}

func appendTEKRecord(b []byte, r *TEKRecord) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, tekFieldKeyData, protowire.BytesType)
	inner = protowire.AppendBytes(inner, r.KeyData)
	inner = protowire.AppendTag(inner, tekFieldTransmissionRiskLevel, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(int64(r.TransmissionRiskLevel)))
	inner = protowire.AppendTag(inner, tekFieldRollingStartIntervalNum, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(int64(r.RollingStartIntervalNumber)))
	inner = protowire.AppendTag(inner, tekFieldRollingPeriod, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(int64(r.RollingPeriod)))
	inner = protowire.AppendTag(inner, tekFieldReportType, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(int64(r.ReportType)))

	b = protowire.AppendTag(b, batchFieldKeys, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b
}

// MarshalTEKBatch encodes batch as a standalone protobuf message (without
// the fixed 16-byte export.bin header; callers prepend that separately).
func MarshalTEKBatch(batch *TEKBatch) []byte {
	var b []byte
	b = protowire.AppendTag(b, batchFieldStartTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(batch.StartTimestamp))
	b = protowire.AppendTag(b, batchFieldEndTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(batch.EndTimestamp))
	b = protowire.AppendTag(b, batchFieldRegion, protowire.BytesType)
	b = protowire.AppendString(b, batch.Region)
	b = protowire.AppendTag(b, batchFieldBatchNum, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(batch.BatchNum)))
	b = protowire.AppendTag(b, batchFieldBatchSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(batch.BatchSize)))
	b = protowire.AppendTag(b, batchFieldPKVers, protowire.BytesType)
	b = protowire.AppendString(b, batch.PKVers)
	for _, rec := range batch.Keys {
		b = appendTEKRecord(b, rec)
	}
	return b
}

// UnmarshalTEKBatch parses bytes previously produced by MarshalTEKBatch.
func UnmarshalTEKBatch(data []byte) (*TEKBatch, error) {
	batch := &TEKBatch{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("tekpb: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == batchFieldStartTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed start_timestamp")
			}
			batch.StartTimestamp = int64(v)
			data = data[n:]
		case num == batchFieldEndTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed end_timestamp")
			}
			batch.EndTimestamp = int64(v)
			data = data[n:]
		case num == batchFieldRegion && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed region")
			}
			batch.Region = string(v)
			data = data[n:]
		case num == batchFieldBatchNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed batch_num")
			}
			batch.BatchNum = int32(v)
			data = data[n:]
		case num == batchFieldBatchSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed batch_size")
			}
			batch.BatchSize = int32(v)
			data = data[n:]
		case num == batchFieldPKVers && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed pk_vers")
			}
			batch.PKVers = string(v)
			data = data[n:]
		case num == batchFieldKeys && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed key entry")
			}
			rec, err := unmarshalTEKRecord(v)
			if err != nil {
				return nil, err
			}
			batch.Keys = append(batch.Keys, rec)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed unknown field %d", num)
			}
			data = data[n:]
		}
	}
	return batch, nil
}

func unmarshalTEKRecord(data []byte) (*TEKRecord, error) {
	rec := &TEKRecord{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("tekpb: malformed tek record tag")
		}
		data = data[n:]

		switch {
		case num == tekFieldKeyData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed key_data")
			}
			rec.KeyData = append([]byte(nil), v...)
			data = data[n:]
		case num == tekFieldTransmissionRiskLevel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed transmission_risk_level")
			}
			rec.TransmissionRiskLevel = int32(v)
			data = data[n:]
		case num == tekFieldRollingStartIntervalNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed rolling_start_interval_number")
			}
			rec.RollingStartIntervalNumber = int32(v)
			data = data[n:]
		case num == tekFieldRollingPeriod && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed rolling_period")
			}
			rec.RollingPeriod = int32(v)
			data = data[n:]
		case num == tekFieldReportType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed report_type")
			}
			rec.ReportType = int32(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed unknown field %d in tek record", num)
			}
			data = data[n:]
		}
	}
	return rec, nil
}

func appendSignatureInfo(b []byte, fieldNum protowire.Number, info *SignatureInfo) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, sigInfoFieldVerificationKeyVersion, protowire.BytesType)
	inner = protowire.AppendString(inner, info.VerificationKeyVersion)
	inner = protowire.AppendTag(inner, sigInfoFieldVerificationKeyID, protowire.BytesType)
	inner = protowire.AppendString(inner, info.VerificationKeyID)
	inner = protowire.AppendTag(inner, sigInfoFieldSignatureAlgorithm, protowire.BytesType)
	inner = protowire.AppendString(inner, info.SignatureAlgorithm)

	b = protowire.AppendTag(b, fieldNum, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b
}

func unmarshalSignatureInfo(data []byte) (*SignatureInfo, error) {
	info := &SignatureInfo{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("tekpb: malformed signature info tag")
		}
		data = data[n:]

		switch {
		case num == sigInfoFieldVerificationKeyVersion && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed verification_key_version")
			}
			info.VerificationKeyVersion = string(v)
			data = data[n:]
		case num == sigInfoFieldVerificationKeyID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed verification_key_id")
			}
			info.VerificationKeyID = string(v)
			data = data[n:]
		case num == sigInfoFieldSignatureAlgorithm && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed signature_algorithm")
			}
			info.SignatureAlgorithm = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed unknown field %d in signature info", num)
			}
			data = data[n:]
		}
	}
	return info, nil
}

func appendTEKSignature(b []byte, sig *TEKSignature) []byte {
	var inner []byte
	if sig.SignatureInfo != nil {
		inner = appendSignatureInfo(inner, sigFieldSignatureInfo, sig.SignatureInfo)
	}
	inner = protowire.AppendTag(inner, sigFieldBatchNum, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(int64(sig.BatchNum)))
	inner = protowire.AppendTag(inner, sigFieldBatchSize, protowire.VarintType)
	inner = protowire.AppendVarint(inner, uint64(int64(sig.BatchSize)))
	inner = protowire.AppendTag(inner, sigFieldSignature, protowire.BytesType)
	inner = protowire.AppendBytes(inner, sig.Signature)
	inner = protowire.AppendTag(inner, sigFieldAppleBundleID, protowire.BytesType)
	inner = protowire.AppendString(inner, sig.AppleBundleID)
	inner = protowire.AppendTag(inner, sigFieldAndroidBundleID, protowire.BytesType)
	inner = protowire.AppendString(inner, sig.AndroidBundleID)

	b = protowire.AppendTag(b, sigListFieldSignatures, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b
}

// MarshalTEKSignatureList encodes list as a standalone protobuf message.
func MarshalTEKSignatureList(list *TEKSignatureList) []byte {
	var b []byte
	for _, sig := range list.Signatures {
		b = appendTEKSignature(b, sig)
	}
	return b
}

// UnmarshalTEKSignatureList parses bytes previously produced by
// MarshalTEKSignatureList.
func UnmarshalTEKSignatureList(data []byte) (*TEKSignatureList, error) {
	list := &TEKSignatureList{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("tekpb: malformed signature list tag")
		}
		data = data[n:]

		switch {
		case num == sigListFieldSignatures && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed signature entry")
			}
			sig, err := unmarshalTEKSignature(v)
			if err != nil {
				return nil, err
			}
			list.Signatures = append(list.Signatures, sig)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed unknown field %d in signature list", num)
			}
			data = data[n:]
		}
	}
	return list, nil
}

func unmarshalTEKSignature(data []byte) (*TEKSignature, error) {
	sig := &TEKSignature{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("tekpb: malformed tek signature tag")
		}
		data = data[n:]

		switch {
		case num == sigFieldSignatureInfo && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed signature_info")
			}
			info, err := unmarshalSignatureInfo(v)
			if err != nil {
				return nil, err
			}
			sig.SignatureInfo = info
			data = data[n:]
		case num == sigFieldBatchNum && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed batch_num")
			}
			sig.BatchNum = int32(v)
			data = data[n:]
		case num == sigFieldBatchSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed batch_size")
			}
			sig.BatchSize = int32(v)
			data = data[n:]
		case num == sigFieldSignature && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed signature bytes")
			}
			sig.Signature = append([]byte(nil), v...)
			data = data[n:]
		case num == sigFieldAppleBundleID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed apple_bundle_id")
			}
			sig.AppleBundleID = string(v)
			data = data[n:]
		case num == sigFieldAndroidBundleID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed android_bundle_id")
			}
			sig.AndroidBundleID = string(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("tekpb: malformed unknown field %d in tek signature", num)
			}
			data = data[n:]
		}
	}
	return sig, nil
}
