package netmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b := New()
	b.WriteUint8(0x07)
	b.WriteUint16(1234)
	b.WriteUint32(987654321)
	b.WriteCString("someone")

	v8, err := b.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0x07), v8)

	v16, err := b.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(1234), v16)

	v32, err := b.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(987654321), v32)

	s, err := b.ReadCString(32)
	require.NoError(t, err)
	require.Equal(t, "someone", s)

	require.Equal(t, 0, b.Remaining())
}

func TestBufferReadPastEndReturnsShortBuffer(t *testing.T) {
	b := New()
	b.WriteUint8(1)

	_, err := b.ReadUint32()
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestBufferReadCStringUnterminatedErrors(t *testing.T) {
	b := New()
	b.WriteBytes([]byte("no-terminator"))

	_, err := b.ReadCString(4)
	require.Error(t, err)
}

func TestBufferCompactShiftsUnreadToFront(t *testing.T) {
	b := New()
	b.WriteUint8(1)
	b.WriteUint8(2)
	b.WriteUint8(3)

	_, _ = b.ReadUint8()
	b.Compact()

	require.Equal(t, 2, b.Remaining())
	v, err := b.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(2), v)
}
