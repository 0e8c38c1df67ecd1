// Package netmsg implements the read/write buffer used to assemble and
// parse auth protocol packets. There is no outer framing on the wire:
// original_source/src/NECROAuth/Server/Auth/AuthSession.cpp's
// ReadCallback reads straight off the raw TLS stream and finds packet
// boundaries from each packet's own kind/varSize header, and this buffer
// is grounded on that plus the fixed-size byte buffers
// original_source's ByteBuffer-derived packets use for field access.
package netmsg

import (
	"encoding/binary"
	"fmt"
)

// defaultCapacity matches S_MAX_ACCEPTED_GATHER_INFO_SIZE-class packets:
// generous enough for any auth packet without a resize on the hot path.
const defaultCapacity = 4096

// Buffer is a growable byte buffer with an independent read and write
// cursor, used both to decode incoming packets and to build outgoing
// replies. It is not safe for concurrent use; every Buffer is owned by a
// single netthread.Thread tick or a single caller.
type Buffer struct {
	data []byte
	rpos int
	wpos int
}

// New returns an empty Buffer ready for writing.
func New() *Buffer {
	return &Buffer{data: make([]byte, 0, defaultCapacity)}
}

// NewFromBytes wraps an already-received payload for reading. wpos is set
// to len(b) so Remaining() reports the full payload as unread.
func NewFromBytes(b []byte) *Buffer {
	return &Buffer{data: b, wpos: len(b)}
}

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return b.wpos }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return b.wpos - b.rpos }

// Bytes returns the written, unread-cursor-independent slice. Callers must
// not mutate the result.
func (b *Buffer) Bytes() []byte { return b.data[:b.wpos] }

// UnreadBytes returns the slice still to be consumed by Read*.
func (b *Buffer) UnreadBytes() []byte { return b.data[b.rpos:b.wpos] }

func (b *Buffer) ensure(n int) {
	need := b.wpos + n
	if cap(b.data) >= need {
		b.data = b.data[:need]
		return
	}
	grown := make([]byte, need, need*2)
	copy(grown, b.data[:b.wpos])
	b.data = grown
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	b.ensure(1)
	b.data[b.wpos-1] = v
}

// WriteUint16 appends a little-endian uint16.
func (b *Buffer) WriteUint16(v uint16) {
	b.ensure(2)
	binary.LittleEndian.PutUint16(b.data[b.wpos-2:], v)
}

// WriteUint32 appends a little-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	b.ensure(4)
	binary.LittleEndian.PutUint32(b.data[b.wpos-4:], v)
}

// WriteBytes appends raw bytes verbatim.
func (b *Buffer) WriteBytes(v []byte) {
	b.ensure(len(v))
	copy(b.data[b.wpos-len(v):], v)
}

// WriteCString appends s followed by a NUL terminator, matching the wire
// string convention used throughout original_source's packet builders.
func (b *Buffer) WriteCString(s string) {
	b.WriteBytes([]byte(s))
	b.WriteUint8(0)
}

// ErrShortBuffer is returned by Read* methods when fewer bytes remain than
// requested.
var ErrShortBuffer = fmt.Errorf("netmsg: short buffer")

// ReadUint8 consumes and returns one byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	if b.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	v := b.data[b.rpos]
	b.rpos++
	return v, nil
}

// ReadUint16 consumes and returns a little-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	if b.Remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint16(b.data[b.rpos:])
	b.rpos += 2
	return v, nil
}

// ReadUint32 consumes and returns a little-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	if b.Remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint32(b.data[b.rpos:])
	b.rpos += 4
	return v, nil
}

// ReadBytes consumes and returns the next n bytes.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if b.Remaining() < n {
		return nil, ErrShortBuffer
	}
	v := b.data[b.rpos : b.rpos+n]
	b.rpos += n
	return v, nil
}

// ReadCString consumes a NUL-terminated string, excluding the terminator.
func (b *Buffer) ReadCString(maxLen int) (string, error) {
	end := b.rpos
	limit := b.wpos
	if maxLen > 0 && b.rpos+maxLen < limit {
		limit = b.rpos + maxLen
	}
	for end < limit && b.data[end] != 0 {
		end++
	}
	if end >= limit {
		return "", fmt.Errorf("netmsg: unterminated string exceeds %d bytes", maxLen)
	}
	s := string(b.data[b.rpos:end])
	b.rpos = end + 1
	return s, nil
}

// Reset clears the buffer for reuse, keeping the underlying array.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.rpos = 0
	b.wpos = 0
}

// Discard advances the read cursor by n bytes without returning them,
// used once a full frame has been dispatched to its handler.
func (b *Buffer) Discard(n int) error {
	if b.Remaining() < n {
		return ErrShortBuffer
	}
	b.rpos += n
	return nil
}

// Compact discards already-read bytes, shifting unread data to the front.
// This mirrors the source's ByteBuffer::read_completed bookkeeping for a
// socket's accumulation buffer across partial reads.
func (b *Buffer) Compact() {
	if b.rpos == 0 {
		return
	}
	n := copy(b.data, b.data[b.rpos:b.wpos])
	b.data = b.data[:n]
	b.wpos = n
	b.rpos = 0
}
