package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferRoundTrip(t *testing.T) {
	buf := NewBuffer(64)

	now := time.Unix(1257894000, 0)

	buf.Pack8(7)
	buf.Pack16(0x2a00)
	buf.Pack32(42)
	buf.Pack64(1 << 40)
	buf.PackBool(true)
	buf.PackTime(now)
	buf.PackStr("n[1-4]")
	buf.PackBytes([]byte{1, 2, 3})
	buf.Pack16Array([]uint16{1, 4})
	buf.Pack32Array([]uint32{2})
	buf.Pack64Array([]uint64{1024, 2048})

	in := FromBytes(buf.Bytes())

	v8, err := in.Unpack8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), v8)

	v16, err := in.Unpack16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2a00), v16)

	v32, err := in.Unpack32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v32)

	v64, err := in.Unpack64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), v64)

	b, err := in.UnpackBool()
	require.NoError(t, err)
	assert.True(t, b)

	ts, err := in.UnpackTime()
	require.NoError(t, err)
	assert.True(t, ts.Equal(now))

	s, err := in.UnpackStr()
	require.NoError(t, err)
	assert.Equal(t, "n[1-4]", s)

	p, err := in.UnpackBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, p)

	a16, err := in.Unpack16Array()
	require.NoError(t, err)
	assert.Equal(t, []uint16{1, 4}, a16)

	a32, err := in.Unpack32Array()
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, a32)

	a64, err := in.Unpack64Array()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1024, 2048}, a64)

	assert.Equal(t, 0, in.Remaining())
}

func TestBufferNilValues(t *testing.T) {
	buf := NewBuffer(16)
	buf.PackBytes(nil)
	buf.Pack32Array(nil)
	buf.Pack64Array(nil)

	in := FromBytes(buf.Bytes())

	p, err := in.UnpackBytes()
	require.NoError(t, err)
	assert.Nil(t, p)

	a32, err := in.Unpack32Array()
	require.NoError(t, err)
	assert.Nil(t, a32)

	a64, err := in.Unpack64Array()
	require.NoError(t, err)
	assert.Nil(t, a64)
}

func TestBufferZeroTime(t *testing.T) {
	buf := NewBuffer(8)
	buf.PackTime(time.Time{})

	ts, err := FromBytes(buf.Bytes()).UnpackTime()
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}

func TestBufferShort(t *testing.T) {
	buf := NewBuffer(8)
	buf.Pack16(1)

	in := FromBytes(buf.Bytes())

	_, err := in.Unpack32()
	assert.ErrorIs(t, err, ErrShortBuffer)

	// A count prefix larger than the remaining data must fail before
	// allocating.
	buf = NewBuffer(8)
	buf.Pack32(1000)
	_, err = FromBytes(buf.Bytes()).UnpackBytes()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestBufferPackBuf(t *testing.T) {
	inner := NewBuffer(8)
	inner.Pack32(7)

	outer := NewBuffer(8)
	outer.Pack8(1)
	outer.PackBuf(inner)

	in := FromBytes(outer.Bytes())
	_, err := in.Unpack8()
	require.NoError(t, err)

	v, err := in.Unpack32()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
}
