// Package trace records an append-only CBOR log of every frame the
// engine sends or accepts, for offline replay and debugging — the
// CBOR framing mirrors the wire encoding the source already used for
// its own message payloads.
package trace

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/roboregion/c110p/pkg/command"
)

// Event is one recorded frame.
type Event struct {
	Direction string `cbor:"direction"` // "tx" or "rx"
	ID        uint32 `cbor:"id"`
	Tag       string `cbor:"tag"`
	Timestamp uint64 `cbor:"timestamp_ms"`
}

// Recorder appends Events to a file as a CBOR stream (one encoded
// value per call, no outer array, so a partially-written file is
// still readable up to the last complete record).
type Recorder struct {
	f   *os.File
	enc *cbor.Encoder
	mu  sync.Mutex
}

// Open creates or truncates path and returns a Recorder writing to it.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	return &Recorder{f: f, enc: cbor.NewEncoder(f)}, nil
}

// Record appends an Event built from direction, now, and cmd.
func (r *Recorder) Record(direction string, now uint64, cmd command.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := Event{Direction: direction, ID: cmd.ID, Tag: cmd.Tag.String(), Timestamp: now}
	if err := r.enc.Encode(ev); err != nil {
		return fmt.Errorf("trace: encode event: %w", err)
	}
	return nil
}

// Observer returns a reliability.Observer-shaped closure (direction,
// command.Command) bound to now, suitable for Facade.SetObserver.
func (r *Recorder) Observer(now func() uint64) func(direction string, cmd command.Command) {
	// Tracing is diagnostic only; a write failure must not interrupt
	// the protocol, so the error is dropped here.
	return func(direction string, cmd command.Command) {
		r.Record(direction, now(), cmd)
	}
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
