// Package wire implements the typed byte buffer used for credential wire
// images. All integers are big-endian; variable-length fields carry a
// 32-bit count prefix. The field order written by a packer is part of the
// protocol: signatures cover the exact bytes produced here.
package wire

import (
	"encoding/binary"
	"errors"
	"time"
)

// ErrShortBuffer is returned when an unpack runs past the end of the buffer.
var ErrShortBuffer = errors.New("wire: short buffer")

// noValue marks a nil byte slice or array on the wire, distinguishing it
// from an empty one.
const noValue = ^uint32(0)

// Buffer is an append-only pack target and a cursor-based unpack source.
// It is not safe for concurrent use.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer returns an empty buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromBytes returns a buffer reading from data. The buffer does not copy;
// the caller must not mutate data while unpacking.
func FromBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns the packed bytes.
func (b *Buffer) Bytes() []byte { return b.data }

// Offset returns the current read offset.
func (b *Buffer) Offset() int { return b.off }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return len(b.data) - b.off }

func (b *Buffer) need(n int) error {
	if b.Remaining() < n {
		return ErrShortBuffer
	}
	return nil
}

func (b *Buffer) Pack8(v uint8) {
	b.data = append(b.data, v)
}

func (b *Buffer) Unpack8() (uint8, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.data[b.off]
	b.off++
	return v, nil
}

func (b *Buffer) Pack16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

func (b *Buffer) Unpack16() (uint16, error) {
	if err := b.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(b.data[b.off:])
	b.off += 2
	return v, nil
}

func (b *Buffer) Pack32(v uint32) {
	b.data = binary.BigEndian.AppendUint32(b.data, v)
}

func (b *Buffer) Unpack32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.off:])
	b.off += 4
	return v, nil
}

func (b *Buffer) Pack64(v uint64) {
	b.data = binary.BigEndian.AppendUint64(b.data, v)
}

func (b *Buffer) Unpack64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.data[b.off:])
	b.off += 8
	return v, nil
}

func (b *Buffer) PackBool(v bool) {
	if v {
		b.Pack8(1)
	} else {
		b.Pack8(0)
	}
}

func (b *Buffer) UnpackBool() (bool, error) {
	v, err := b.Unpack8()
	return v != 0, err
}

// PackTime packs t as unix seconds. The zero time packs as zero.
func (b *Buffer) PackTime(t time.Time) {
	if t.IsZero() {
		b.Pack64(0)
		return
	}
	b.Pack64(uint64(t.Unix()))
}

func (b *Buffer) UnpackTime() (time.Time, error) {
	v, err := b.Unpack64()
	if err != nil {
		return time.Time{}, err
	}
	if v == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(v), 0), nil
}

// PackStr packs s with a count prefix. A nil-equivalent is not
// representable for strings: an absent string packs as the empty one.
func (b *Buffer) PackStr(s string) {
	b.Pack32(uint32(len(s)))
	b.data = append(b.data, s...)
}

func (b *Buffer) UnpackStr() (string, error) {
	n, err := b.Unpack32()
	if err != nil {
		return "", err
	}
	if err := b.need(int(n)); err != nil {
		return "", err
	}
	s := string(b.data[b.off : b.off+int(n)])
	b.off += int(n)
	return s, nil
}

func (b *Buffer) PackBytes(p []byte) {
	if p == nil {
		b.Pack32(noValue)
		return
	}
	b.Pack32(uint32(len(p)))
	b.data = append(b.data, p...)
}

func (b *Buffer) UnpackBytes() ([]byte, error) {
	n, err := b.Unpack32()
	if err != nil {
		return nil, err
	}
	if n == noValue {
		return nil, nil
	}
	if err := b.need(int(n)); err != nil {
		return nil, err
	}
	p := make([]byte, n)
	copy(p, b.data[b.off:])
	b.off += int(n)
	return p, nil
}

func (b *Buffer) Pack16Array(a []uint16) {
	if a == nil {
		b.Pack32(noValue)
		return
	}
	b.Pack32(uint32(len(a)))
	for _, v := range a {
		b.Pack16(v)
	}
}

func (b *Buffer) Unpack16Array() ([]uint16, error) {
	n, err := b.Unpack32()
	if err != nil {
		return nil, err
	}
	if n == noValue {
		return nil, nil
	}
	if err := b.need(2 * int(n)); err != nil {
		return nil, err
	}
	a := make([]uint16, n)
	for i := range a {
		a[i], _ = b.Unpack16()
	}
	return a, nil
}

func (b *Buffer) Pack32Array(a []uint32) {
	if a == nil {
		b.Pack32(noValue)
		return
	}
	b.Pack32(uint32(len(a)))
	for _, v := range a {
		b.Pack32(v)
	}
}

func (b *Buffer) Unpack32Array() ([]uint32, error) {
	n, err := b.Unpack32()
	if err != nil {
		return nil, err
	}
	if n == noValue {
		return nil, nil
	}
	if err := b.need(4 * int(n)); err != nil {
		return nil, err
	}
	a := make([]uint32, n)
	for i := range a {
		a[i], _ = b.Unpack32()
	}
	return a, nil
}

func (b *Buffer) Pack64Array(a []uint64) {
	if a == nil {
		b.Pack32(noValue)
		return
	}
	b.Pack32(uint32(len(a)))
	for _, v := range a {
		b.Pack64(v)
	}
}

func (b *Buffer) Unpack64Array() ([]uint64, error) {
	n, err := b.Unpack32()
	if err != nil {
		return nil, err
	}
	if n == noValue {
		return nil, nil
	}
	if err := b.need(8 * int(n)); err != nil {
		return nil, err
	}
	a := make([]uint64, n)
	for i := range a {
		a[i], _ = b.Unpack64()
	}
	return a, nil
}

// PackBuf appends the raw contents of other with no prefix, preserving the
// other buffer's bytes exactly.
func (b *Buffer) PackBuf(other *Buffer) {
	b.data = append(b.data, other.data...)
}

// PackRaw appends p with no prefix.
func (b *Buffer) PackRaw(p []byte) {
	b.data = append(b.data, p...)
}
