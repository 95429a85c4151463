// Package c110p is the single public entry point for the command
// protocol: a Facade bundling framing, reliability, and dispatch
// behind a small surface a transport-agnostic caller can drive from
// its own poll loop.
package c110p

import (
	"time"

	"github.com/roboregion/c110p/pkg/command"
	"github.com/roboregion/c110p/pkg/framer"
	"github.com/roboregion/c110p/pkg/reliability"
)

// Facade is the top-level object an application constructs once per
// serial link. It is not safe for concurrent use; ProcessQueue must be
// driven from a single goroutine (or the main loop), matching the
// protocol's single-threaded, non-reentrant design.
type Facade struct {
	engine *reliability.Engine
	region command.Region
	start  time.Time
}

// New creates a Facade bound to stream, identifying outgoing commands
// as originating from region. timeoutMs bounds both the per-call
// framer read budget and the retry interval. Its timestamp source is
// a monotonic millisecond clock seeded at construction time.
func New(stream framer.Stream, region command.Region, timeoutMs uint64) *Facade {
	f := &Facade{region: region, start: time.Now()}
	f.engine = reliability.New(stream, region, f.monotonicMs, timeoutMs)
	return f
}

// NewWithClock is the constructor tests reach for: it takes the
// TimestampFunc directly rather than defaulting to the built-in
// monotonic clock, giving deterministic control over retry timing.
func NewWithClock(stream framer.Stream, region command.Region, now framer.TimestampFunc, timeoutMs uint64) *Facade {
	f := &Facade{region: region}
	f.engine = reliability.New(stream, region, now, timeoutMs)
	return f
}

func (f *Facade) monotonicMs() uint64 {
	return uint64(time.Since(f.start).Milliseconds())
}

// SetLedHandler, SetSoundHandler, and SetMoveHandler install the
// callbacks invoked on dispatch of a freshly-seen inbound command of
// the matching variant. Each call replaces only its own handler,
// leaving the other two untouched.
func (f *Facade) SetLedHandler(h func(command.Command))   { f.setHandler(func(hs *reliability.Handlers) { hs.Led = h }) }
func (f *Facade) SetSoundHandler(h func(command.Command)) { f.setHandler(func(hs *reliability.Handlers) { hs.Sound = h }) }
func (f *Facade) SetMoveHandler(h func(command.Command))  { f.setHandler(func(hs *reliability.Handlers) { hs.Move = h }) }

func (f *Facade) setHandler(mutate func(*reliability.Handlers)) {
	hs := f.engine.CurrentHandlers()
	mutate(&hs)
	f.engine.SetHandlers(hs)
}

// SetMaxRetries overrides reliability.DefaultMaxRetries.
func (f *Facade) SetMaxRetries(n uint32) { f.engine.SetMaxRetries(n) }

// SetObserver installs an ambient hook notified of every tx/rx frame
// (wired to trace/metrics packages by the caller, never by the core).
func (f *Facade) SetObserver(o reliability.Observer) { f.engine.SetObserver(o) }

// Now returns the facade's current clock reading in milliseconds,
// for callers (tracing, logging) that want to stamp events with the
// same time source the engine uses for retries.
func (f *Facade) Now() uint64 { return f.engine.Now() }

// Send transmits cmd and tracks it for acknowledgement/retry.
func (f *Facade) Send(cmd command.Command) bool { return f.engine.Send(cmd) }

// SendNack writes an unsolicited NACK for id, for an application layer
// that decodes a command successfully but rejects it on its own terms.
func (f *Facade) SendNack(id uint32, reason string) bool { return f.engine.SendNack(id, reason) }

// ProcessQueue drains one pass of pending inbound bytes and sweeps
// overdue retries. Call it on every iteration of the caller's poll
// loop.
func (f *Facade) ProcessQueue() bool { return f.engine.ProcessQueue() }

// SentSize, ReceivedSize, and OutstandingSize expose window/table
// sizes for introspection (metrics collectors, tests).
func (f *Facade) SentSize() int        { return f.engine.SentSize() }
func (f *Facade) ReceivedSize() int    { return f.engine.ReceivedSize() }
func (f *Facade) OutstandingSize() int { return f.engine.OutstandingSize() }
