// Package journal packs/unpacks the 24-byte canonical journal encoding
// shared by the Prover Client (success-result validation) and the Claim
// Pipeline (on-chain payload construction).
package journal

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/proofgw/internal/model"
)

// ExpectedRulesDigest is the compile-time rules-digest constant every
// succeeded record's journal must match. It is the ASCII tag "AST3"
// ("at a single truth, v3") read as a big-endian u32 (Pack's little-endian
// bytes for it are "3TSA"), matching the
// fixture values used throughout the end-to-end scenarios.
const ExpectedRulesDigest uint32 = 0x41535433

// Pack encodes j into the canonical 24-byte little-endian layout: seed,
// frameCount, finalScore, finalRngState, tapeChecksum, rulesDigest.
func Pack(j model.Journal) [model.JournalByteLen]byte {
	var buf [model.JournalByteLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], j.Seed)
	binary.LittleEndian.PutUint32(buf[4:8], j.FrameCount)
	binary.LittleEndian.PutUint32(buf[8:12], j.FinalScore)
	binary.LittleEndian.PutUint32(buf[12:16], j.FinalRngState)
	binary.LittleEndian.PutUint32(buf[16:20], j.TapeChecksum)
	binary.LittleEndian.PutUint32(buf[20:24], j.RulesDigest)
	return buf
}

// Unpack is the inverse of Pack.
func Unpack(buf []byte) (model.Journal, error) {
	if len(buf) != model.JournalByteLen {
		return model.Journal{}, errors.New("journal: wrong byte length")
	}
	return model.Journal{
		Seed:          binary.LittleEndian.Uint32(buf[0:4]),
		FrameCount:    binary.LittleEndian.Uint32(buf[4:8]),
		FinalScore:    binary.LittleEndian.Uint32(buf[8:12]),
		FinalRngState: binary.LittleEndian.Uint32(buf[12:16]),
		TapeChecksum:  binary.LittleEndian.Uint32(buf[16:20]),
		RulesDigest:   binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}
