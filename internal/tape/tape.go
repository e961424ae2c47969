// Package tape validates and serializes the game-replay tape wire format.
//
// Wire layout, little-endian throughout:
//
//	header (16 bytes): magic(4) | version(4) | seed(4) | frameCount(4)
//	body   (frameCount bytes): one input byte per frame
//	footer (12 bytes): finalScore(4) | finalRngState(4) | checksum(4)
//
// checksum is the CRC-32 (IEEE) of header||body. Total length must equal
// exactly 16 + frameCount + 12.
package tape

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/luxfi/proofgw/internal/model"
)

const (
	magic      uint32 = 0x5A4B5450
	version    uint32 = 1
	headerLen         = 16
	footerLen         = 12
)

// RejectKind classifies why a tape was rejected, for mapping onto HTTP
// error codes at the ingress boundary.
type RejectKind string

const (
	RejectEmpty          RejectKind = "empty"
	RejectTooLarge        RejectKind = "too_large"
	RejectBadMagic        RejectKind = "bad_magic"
	RejectBadVersion      RejectKind = "bad_version"
	RejectLengthMismatch  RejectKind = "length_mismatch"
	RejectChecksumInvalid RejectKind = "checksum_invalid"
	RejectZeroScore       RejectKind = "zero_score_not_allowed"
)

// Error reports a rejected tape with a stable machine-readable kind.
type Error struct {
	Kind RejectKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func reject(kind RejectKind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// IsRejection reports whether err is a tape validation rejection and
// returns its kind.
func IsRejection(err error) (RejectKind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// Validate checks a raw tape buffer against maxBytes and the wire-format
// invariants in order: non-empty, size cap, magic/version, declared
// frameCount consistency, CRC-32, and the zero-score policy. On success it
// returns the extracted metadata.
func Validate(buf []byte, maxBytes int64) (model.TapeMetadata, error) {
	if len(buf) == 0 {
		return model.TapeMetadata{}, reject(RejectEmpty, "tape is empty")
	}
	if maxBytes > 0 && int64(len(buf)) > maxBytes {
		return model.TapeMetadata{}, reject(RejectTooLarge, "tape exceeds maximum size")
	}
	if len(buf) < headerLen+footerLen {
		return model.TapeMetadata{}, reject(RejectLengthMismatch, "tape shorter than header+footer")
	}

	gotMagic := binary.LittleEndian.Uint32(buf[0:4])
	if gotMagic != magic {
		return model.TapeMetadata{}, reject(RejectBadMagic, "tape magic mismatch")
	}
	gotVersion := binary.LittleEndian.Uint32(buf[4:8])
	if gotVersion != version {
		return model.TapeMetadata{}, reject(RejectBadVersion, "unsupported tape version")
	}
	seed := binary.LittleEndian.Uint32(buf[8:12])
	frameCount := binary.LittleEndian.Uint32(buf[12:16])

	wantLen := headerLen + int64(frameCount) + footerLen
	if int64(len(buf)) != wantLen {
		return model.TapeMetadata{}, reject(RejectLengthMismatch, "tape length inconsistent with declared frameCount")
	}

	footerOff := headerLen + int(frameCount)
	finalScore := binary.LittleEndian.Uint32(buf[footerOff : footerOff+4])
	finalRngState := binary.LittleEndian.Uint32(buf[footerOff+4 : footerOff+8])
	checksum := binary.LittleEndian.Uint32(buf[footerOff+8 : footerOff+12])

	gotChecksum := crc32.ChecksumIEEE(buf[:footerOff])
	if gotChecksum != checksum {
		return model.TapeMetadata{}, reject(RejectChecksumInvalid, "tape checksum mismatch")
	}

	if finalScore == 0 {
		return model.TapeMetadata{}, reject(RejectZeroScore, "zero-score tapes are never submitted to the prover")
	}

	return model.TapeMetadata{
		Seed:          seed,
		FrameCount:    frameCount,
		FinalScore:    finalScore,
		FinalRngState: finalRngState,
		Checksum:      checksum,
	}, nil
}

// Serialize is the inverse of Validate: it frames metadata and frame
// inputs into the wire format, computing the checksum. It does not apply
// the zero-score policy (tests and cmd/tapegen use it to build both
// accepted and rejected fixtures).
func Serialize(seed, frameCount, finalScore, finalRngState uint32, frames []byte) ([]byte, error) {
	if uint32(len(frames)) != frameCount {
		return nil, errors.New("tape: frames length does not match frameCount")
	}

	buf := make([]byte, headerLen+len(frames)+footerLen)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], seed)
	binary.LittleEndian.PutUint32(buf[12:16], frameCount)
	copy(buf[headerLen:headerLen+len(frames)], frames)

	footerOff := headerLen + len(frames)
	binary.LittleEndian.PutUint32(buf[footerOff:footerOff+4], finalScore)
	binary.LittleEndian.PutUint32(buf[footerOff+4:footerOff+8], finalRngState)

	checksum := crc32.ChecksumIEEE(buf[:footerOff])
	binary.LittleEndian.PutUint32(buf[footerOff+8:footerOff+12], checksum)

	return buf, nil
}
