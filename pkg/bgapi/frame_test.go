package bgapi

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

var testIdentity = Identity{Class: ClassEvent, Group: 0x04, Op: 0x05}

func testPayload(n int) []byte {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = byte(i*7 + 3)
	}
	return payload
}

func TestEncodeHeader(t *testing.T) {
	encoded, err := Encode(Identity{Class: 0x00, Group: 0x06, Op: 0x03}, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	expected := []byte{0x00, 0x03, 0x06, 0x03, 1, 2, 3}
	if !bytes.Equal(encoded, expected) {
		t.Errorf("expected %02x but got %02x", expected, encoded)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	for n := 0; n <= MaxPayloadLength; n++ {
		payload := testPayload(n)
		encoded, err := Encode(testIdentity, payload)
		if err != nil {
			t.Fatalf("length %d: %s", n, err)
		}
		frame, consumed, ok := Decode(encoded)
		if !ok {
			t.Fatalf("length %d: no frame decoded", n)
		}
		if consumed != len(encoded) {
			t.Errorf("length %d: consumed %d of %d bytes", n, consumed, len(encoded))
		}
		if frame.Identity != testIdentity || !bytes.Equal(frame.Payload, payload) {
			t.Errorf("length %d: frame did not survive round trip", n)
		}
	}
}

func TestPayloadTooLarge(t *testing.T) {
	if _, err := Encode(testIdentity, make([]byte, MaxPayloadLength+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge but got %v", err)
	}
	if _, err := Marshal(&AttributeWrite{Handle: 1, Data: make([]byte, 300)}); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge for oversized command but got %v", err)
	}
}

func TestDecodeIncomplete(t *testing.T) {
	encoded, err := Encode(testIdentity, testPayload(10))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(encoded); i++ {
		if _, n, ok := Decode(encoded[:i]); ok || n != 0 {
			t.Errorf("decoded frame from %d of %d bytes", i, len(encoded))
		}
	}
}

func TestDecodeDoesNotAlias(t *testing.T) {
	encoded, _ := Encode(testIdentity, []byte{1, 2})
	frame, _, _ := Decode(encoded)
	encoded[4] = 0xFF
	if frame.Payload[0] != 1 {
		t.Error("decoded payload aliases input buffer")
	}
}

func encodeStream(t *testing.T, count int) ([]byte, [][]byte) {
	t.Helper()
	var stream []byte
	var payloads [][]byte
	for i := 0; i < count; i++ {
		payload := testPayload((i * 37) % 60)
		encoded, err := Encode(testIdentity, payload)
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, encoded...)
		payloads = append(payloads, payload)
	}
	return stream, payloads
}

func drain(b *Buffer) [][]byte {
	var payloads [][]byte
	for {
		frame, ok := b.Next()
		if !ok {
			return payloads
		}
		payloads = append(payloads, frame.Payload)
	}
}

func checkPayloads(t *testing.T, observed, expected [][]byte) {
	t.Helper()
	if len(observed) != len(expected) {
		t.Fatalf("expected %d frames but got %d", len(expected), len(observed))
	}
	for i := range expected {
		if !bytes.Equal(observed[i], expected[i]) {
			t.Errorf("frame %d differs", i)
		}
	}
}

func TestBufferPartialReads(t *testing.T) {
	stream, payloads := encodeStream(t, 20)
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 50; trial++ {
		var b Buffer
		var observed [][]byte
		for remaining := stream; len(remaining) > 0; {
			n := rng.Intn(9) + 1
			if n > len(remaining) {
				n = len(remaining)
			}
			b.Write(remaining[:n])
			remaining = remaining[n:]
			observed = append(observed, drain(&b)...)
		}
		checkPayloads(t, observed, payloads)
		if b.Len() != 0 {
			t.Errorf("trial %d left %d bytes buffered", trial, b.Len())
		}
	}
}

func TestBufferByteAtATime(t *testing.T) {
	stream, payloads := encodeStream(t, 5)
	var b Buffer
	var observed [][]byte
	for i := range stream {
		b.Write(stream[i : i+1])
		observed = append(observed, drain(&b)...)
	}
	checkPayloads(t, observed, payloads)
}

func TestBufferAllAtOnce(t *testing.T) {
	stream, payloads := encodeStream(t, 5)
	var b Buffer
	b.Write(stream)
	checkPayloads(t, drain(&b), payloads)
}
