package bgapi

import (
	"errors"
	"fmt"
)

const (
	// HeaderLength is the size of the fixed frame header.
	HeaderLength = 4
	// MaxPayloadLength is the largest payload representable by the header's length byte.
	MaxPayloadLength = 255
)

// Message classes.
const (
	ClassCommand byte = 0x00 // Commands and their responses.
	ClassEvent   byte = 0x80
)

var (
	ErrPayloadTooLarge  = errors.New("bgapi: payload exceeds 255 bytes")
	ErrLengthMismatch   = errors.New("bgapi: array length prefix disagrees with available bytes")
	ErrMalformedPayload = errors.New("bgapi: malformed payload")
)

// Identity is a frame header with the length byte masked out. Frames with equal identities are
// the same kind of message regardless of payload length.
type Identity struct {
	Class byte
	Group byte
	Op    byte
}

// IsEvent returns true if id names an unsolicited event rather than a command or response.
func (id Identity) IsEvent() bool {
	return id.Class&ClassEvent != 0
}

func (id Identity) String() string {
	return fmt.Sprintf("%02x:%02x:%02x", id.Class, id.Group, id.Op)
}

// Frame is one length-delimited unit of the wire protocol.
type Frame struct {
	Identity
	Payload []byte
}

// Encode serializes a frame. The header's length byte is always derived from payload.
func Encode(id Identity, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w (%d bytes)", ErrPayloadTooLarge, len(payload))
	}
	buffer := make([]byte, HeaderLength, HeaderLength+len(payload))
	buffer[0] = id.Class
	buffer[1] = byte(len(payload))
	buffer[2] = id.Group
	buffer[3] = id.Op
	return append(buffer, payload...), nil
}

// Decode extracts the frame at the head of buf. If buf does not yet hold a complete frame, ok is
// false and consumed is zero.
func Decode(buf []byte) (frame Frame, consumed int, ok bool) {
	if len(buf) < HeaderLength {
		return
	}
	length := int(buf[1])
	if len(buf) < HeaderLength+length {
		return
	}
	frame.Identity = Identity{Class: buf[0], Group: buf[2], Op: buf[3]}
	frame.Payload = make([]byte, length)
	copy(frame.Payload, buf[HeaderLength:HeaderLength+length])
	return frame, HeaderLength + length, true
}

// Buffer accumulates bytes from a stream and yields complete frames. Bytes are only appended at
// the tail and removed from the head, so frames may span any number of writes.
type Buffer struct {
	pending []byte
}

// Write appends p to the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.pending = append(b.pending, p...)
	return len(p), nil
}

// Next removes and returns the next complete frame, if any.
func (b *Buffer) Next() (Frame, bool) {
	frame, n, ok := Decode(b.pending)
	if !ok {
		return Frame{}, false
	}
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return frame, true
}

// Len returns the number of buffered bytes not yet returned as frames.
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Reset discards buffered bytes.
func (b *Buffer) Reset() {
	b.pending = nil
}
