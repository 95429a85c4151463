// Package framer reconstructs discrete, CRC-protected messages from a
// raw, borrowed byte stream: START(1) | LEN(1) | PAYLOAD(LEN) | CRC(1).
package framer

import (
	"github.com/roboregion/c110p/pkg/command"
	"github.com/roboregion/c110p/pkg/crc8"
)

// StartByte is the fixed frame sentinel. Both peers must agree on it.
const StartByte byte = 0x7E

// MaxPayload bounds the LEN byte and the payload buffer uniformly.
// The original C++ used two different size constants for the
// length-byte bound and the buffer capacity; here both are unified as
// command.MaxPayload.
const MaxPayload = command.MaxPayload

// Stream is the abstract, non-blocking byte transport the framer
// consumes. It is borrowed, not owned: the framer never closes it.
type Stream interface {
	// Available returns the number of bytes ready to read, which may
	// be zero.
	Available() int
	// Read returns the next byte in 0..255, or -1 if none is ready.
	Read() int
	// Write writes a single byte, returning 1 on success or 0 on
	// failure.
	Write(b byte) int
	// WriteBytes writes data in one shot, returning len(data) on
	// success or 0 on failure.
	WriteBytes(data []byte) int
}

// TimestampFunc returns milliseconds from a monotonic, non-decreasing
// clock. It is the only time source the framer consults.
type TimestampFunc func() uint64

// Framer is the incremental, single-owner frame parser. It is not
// safe for concurrent use.
type Framer struct {
	stream    Stream
	now       TimestampFunc
	timeoutMs uint64

	idx    int // 0=awaiting START, 1=awaiting LEN, 2..len+1=payload, len+2=CRC
	length int
	buf    [MaxPayload]byte

	onFrame func(payload []byte)
}

// New creates a Framer reading from stream, bounding each ReadFrame
// call to timeoutMs using now as the clock.
func New(stream Stream, now TimestampFunc, timeoutMs uint64) *Framer {
	return &Framer{stream: stream, now: now, timeoutMs: timeoutMs}
}

// OnFrame registers the callback invoked synchronously, from within
// ReadFrame, whenever a complete, CRC-valid frame is delivered.
func (f *Framer) OnFrame(fn func(payload []byte)) {
	f.onFrame = fn
}

// stepResult is step's outcome for one byte: whether the frame is
// still being assembled, was just delivered, or was just rejected.
// Rejection must end the current ReadFrame call immediately rather
// than fall through to the next queued byte, matching the original's
// early return on a framing error.
type stepResult int

const (
	stepIncomplete stepResult = iota
	stepDelivered
	stepError
)

// ReadFrame drains available bytes from the stream until either one
// complete frame is delivered (returns true), a framing error is
// encountered, the stream has nothing more to offer, or the per-call
// time budget is exhausted (all three return false). A partial frame
// persists across calls; the time budget bounds a single call, not
// frame assembly across calls. On a framing error (bad length, CRC
// mismatch), ReadFrame returns immediately without consuming any
// further queued bytes in this call — a frame following the bad one
// is picked up on the next call.
func (f *Framer) ReadFrame() bool {
	start := f.now()
	for f.stream.Available() > 0 {
		if f.now()-start >= f.timeoutMs {
			break
		}
		b := f.stream.Read()
		if b < 0 {
			break
		}
		switch f.step(byte(b)) {
		case stepDelivered:
			return true
		case stepError:
			return false
		}
	}
	return false
}

// step feeds one byte through the state machine.
func (f *Framer) step(b byte) stepResult {
	switch {
	case f.idx == 0:
		if b == StartByte {
			f.idx = 1
		}
		// else: discard, resync policy is to keep waiting for START.

	case f.idx == 1:
		if int(b) > MaxPayload {
			f.reset()
			return stepError
		}
		// A zero-length frame is legal: idx now equals length+2 (2),
		// so the very next byte is treated as the CRC byte by the
		// case below, with no payload bytes in between.
		f.length = int(b)
		f.idx = 2

	case f.idx >= 2 && f.idx < f.length+2:
		f.buf[f.idx-2] = b
		f.idx++

	case f.idx == f.length+2:
		payload := f.buf[:f.length]
		if crc8.Compute(payload) != b {
			f.reset()
			return stepError
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		f.reset()
		if f.onFrame != nil {
			f.onFrame(cp)
		}
		return stepDelivered
	}
	return stepIncomplete
}

func (f *Framer) reset() {
	f.idx = 0
	f.length = 0
}
