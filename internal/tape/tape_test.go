package tape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleFrames(n uint32) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	frames := sampleFrames(3980)
	buf, err := Serialize(0xdeadbeef, uint32(len(frames)), 90, 0xeb0719ce, frames)
	require.NoError(t, err)

	meta, err := Validate(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), meta.Seed)
	require.Equal(t, uint32(3980), meta.FrameCount)
	require.Equal(t, uint32(90), meta.FinalScore)
	require.Equal(t, uint32(0xeb0719ce), meta.FinalRngState)
}

func TestValidate_OffByOneFails(t *testing.T) {
	frames := sampleFrames(10)
	buf, err := Serialize(1, 10, 5, 2, frames)
	require.NoError(t, err)

	_, err = Validate(buf[:len(buf)-1], 0)
	require.Error(t, err)
	kind, ok := IsRejection(err)
	require.True(t, ok)
	require.Equal(t, RejectLengthMismatch, kind)

	extra := append(buf, 0x00)
	_, err = Validate(extra, 0)
	require.Error(t, err)
}

func TestValidate_ZeroFrameCountAccepted(t *testing.T) {
	buf, err := Serialize(1, 0, 5, 2, nil)
	require.NoError(t, err)
	meta, err := Validate(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(0), meta.FrameCount)
}

func TestValidate_ZeroScoreRejected(t *testing.T) {
	buf, err := Serialize(1, 0, 0, 2, nil)
	require.NoError(t, err)
	_, err = Validate(buf, 0)
	require.Error(t, err)
	kind, ok := IsRejection(err)
	require.True(t, ok)
	require.Equal(t, RejectZeroScore, kind)
}

func TestValidate_MaxBytes(t *testing.T) {
	frames := sampleFrames(100)
	buf, err := Serialize(1, 100, 5, 2, frames)
	require.NoError(t, err)

	_, err = Validate(buf, int64(len(buf)-1))
	require.Error(t, err)
	kind, ok := IsRejection(err)
	require.True(t, ok)
	require.Equal(t, RejectTooLarge, kind)
}

func TestValidate_BadMagic(t *testing.T) {
	frames := sampleFrames(4)
	buf, err := Serialize(1, 4, 5, 2, frames)
	require.NoError(t, err)
	buf[0] ^= 0xFF
	_, err = Validate(buf, 0)
	require.Error(t, err)
	kind, ok := IsRejection(err)
	require.True(t, ok)
	require.Equal(t, RejectBadMagic, kind)
}

func TestValidate_ChecksumInvalid(t *testing.T) {
	frames := sampleFrames(4)
	buf, err := Serialize(1, 4, 5, 2, frames)
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF
	_, err = Validate(buf, 0)
	require.Error(t, err)
	kind, ok := IsRejection(err)
	require.True(t, ok)
	require.Equal(t, RejectChecksumInvalid, kind)
}

func TestValidate_Empty(t *testing.T) {
	_, err := Validate(nil, 0)
	require.Error(t, err)
	kind, ok := IsRejection(err)
	require.True(t, ok)
	require.Equal(t, RejectEmpty, kind)
}
