// Package claim is the on-chain settlement relay pipeline (spec §4.6): it
// extracts the Groth16 seal and canonical journal from a succeeded job's
// result artifact, calls the external settlement relay, and classifies
// the outcome transient/fatal using the documented substring matcher.
package claim

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

const (
	rawSealLen    = 256
	verifierWords = 8
	selectorLen   = 4
	// FinalSealLen is the 260-byte on-chain verifier payload: a 4-byte
	// selector derived from the verifier parameters, followed by the raw
	// 256-byte Groth16 seal (spec §6).
	FinalSealLen = selectorLen + rawSealLen
)

// ExtractSeal builds the 260-byte final seal from the receipt's raw
// Groth16 seal bytes and its 8 u32 verifier parameters, per spec §6: the
// verifier parameters are encoded as 32 little-endian bytes and the first
// 4 form the selector prefixed onto the raw seal.
func ExtractSeal(rawSeal []byte, verifierParameters []uint32) ([]byte, error) {
	if len(rawSeal) != rawSealLen {
		return nil, errors.Newf("claim: raw seal must be %d bytes, got %d", rawSealLen, len(rawSeal))
	}
	if len(verifierParameters) != verifierWords {
		return nil, errors.Newf("claim: expected %d verifier parameters, got %d", verifierWords, len(verifierParameters))
	}

	var paramBytes [verifierWords * 4]byte
	for i, v := range verifierParameters {
		binary.LittleEndian.PutUint32(paramBytes[i*4:i*4+4], v)
	}

	final := make([]byte, 0, FinalSealLen)
	final = append(final, paramBytes[:selectorLen]...)
	final = append(final, rawSeal...)
	return final, nil
}

// ReceiptSeal is the shape extracted from a proof artifact's
// receipt.inner.Groth16 object.
type ReceiptSeal struct {
	Seal               []byte
	VerifierParameters []uint32
}

// ParseReceiptSeal decodes receipt.inner.Groth16 out of a raw decoded
// receipt map (as stored verbatim in the result artifact).
func ParseReceiptSeal(receipt map[string]interface{}) (ReceiptSeal, error) {
	inner, ok := receipt["inner"].(map[string]interface{})
	if !ok {
		return ReceiptSeal{}, errors.New("claim: receipt.inner missing or malformed")
	}
	g16, ok := inner["Groth16"].(map[string]interface{})
	if !ok {
		return ReceiptSeal{}, errors.New("claim: receipt.inner.Groth16 missing or malformed")
	}

	rawSealAny, ok := g16["seal"].([]interface{})
	if !ok || len(rawSealAny) != rawSealLen {
		return ReceiptSeal{}, errors.Newf("claim: receipt.inner.Groth16.seal must be %d bytes", rawSealLen)
	}
	seal := make([]byte, rawSealLen)
	for i, v := range rawSealAny {
		n, err := toUint(v)
		if err != nil || n > 255 {
			return ReceiptSeal{}, fmt.Errorf("claim: seal byte %d out of range", i)
		}
		seal[i] = byte(n)
	}

	paramsAny, ok := g16["verifier_parameters"].([]interface{})
	if !ok || len(paramsAny) != verifierWords {
		return ReceiptSeal{}, errors.Newf("claim: receipt.inner.Groth16.verifier_parameters must have %d entries", verifierWords)
	}
	params := make([]uint32, verifierWords)
	for i, v := range paramsAny {
		n, err := toUint(v)
		if err != nil {
			return ReceiptSeal{}, fmt.Errorf("claim: verifier parameter %d is not numeric", i)
		}
		params[i] = uint32(n)
	}

	return ReceiptSeal{Seal: seal, VerifierParameters: params}, nil
}

func toUint(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, errors.New("claim: negative numeric value")
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, errors.New("claim: negative numeric value")
		}
		return uint64(n), nil
	default:
		return 0, errors.New("claim: value is not numeric")
	}
}
