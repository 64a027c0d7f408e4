// Package connector defines the byte-stream boundary between the BGAPI client and the physical
// link to a dongle.
package connector

import (
	"io"
	"time"
)

// ReadBufferSize is the number of bytes requested from a Stream per read.
const ReadBufferSize = 512

// DefaultPollInterval is how long a reader idles after a Stream reports no data.
const DefaultPollInterval = 2 * time.Millisecond

//go:generate mockgen -source=connector.go -destination=../../internal/mocks/stream.go -package=mocks

// Stream carries raw bytes to and from a dongle.
//
// Read must not block indefinitely: when no bytes are available it returns 0, nil (possibly after
// a short internal timeout). Read is only ever called from a single goroutine.
//
// Write must transmit all of p or return an error. Callers serialize writes, so implementations
// need not be safe for concurrent writers.
type Stream interface {
	io.Reader
	io.Writer
}
