// Package reliability tracks sent messages, matches acknowledgements
// by message id, retries after a timeout up to a bounded count, and
// dedups inbound messages using a bounded recent-id window. It owns a
// *framer.Framer by composition (subscribing to its OnFrame hook)
// rather than by inheritance.
package reliability

import (
	"log"

	"github.com/roboregion/c110p/pkg/command"
	"github.com/roboregion/c110p/pkg/crc8"
	"github.com/roboregion/c110p/pkg/framer"
	"github.com/roboregion/c110p/pkg/window"
)

// DefaultMaxRetries bounds total retransmission attempts per message.
const DefaultMaxRetries = 3

// outstandingEntry tracks a sent message awaiting acknowledgement.
type outstandingEntry struct {
	lastAttemptMs uint64
	retryCount    uint32
}

// Handlers are the user-supplied callbacks invoked for decoded,
// non-ACK inbound commands. A nil handler means that variant is
// silently dropped.
type Handlers struct {
	Led   func(command.Command)
	Sound func(command.Command)
	Move  func(command.Command)
}

// Observer, if set, is notified of every frame the engine sends or
// accepts, for ambient concerns (tracing, metrics) that must not leak
// into the core engine itself.
type Observer func(direction string, cmd command.Command)

// Engine is the reliability layer: sent/received windows, the
// outstanding table, retry sweep, and inbound dispatch. It is owned
// exclusively by one facade and is not safe for concurrent use.
type Engine struct {
	framer    *framer.Framer
	stream    framer.Stream
	now       framer.TimestampFunc
	timeoutMs uint64
	maxRetries uint32
	region    command.Region

	sent        *window.RecentWindow[command.Command]
	received    *window.RecentWindow[command.Command]
	outstanding map[uint32]*outstandingEntry

	handlers Handlers
	observer Observer

	dispatching bool // re-entrancy guard: handlers must not call ProcessQueue
}

// New creates an Engine bound to stream, using now as the sole time
// source and timeoutMs for both retry timing and the framer's
// per-call read budget.
func New(stream framer.Stream, region command.Region, now framer.TimestampFunc, timeoutMs uint64) *Engine {
	e := &Engine{
		stream:      stream,
		now:         now,
		timeoutMs:   timeoutMs,
		maxRetries:  DefaultMaxRetries,
		region:      region,
		sent:        window.New[command.Command](window.DefaultCapacity),
		received:    window.New[command.Command](window.DefaultCapacity),
		outstanding: make(map[uint32]*outstandingEntry),
	}
	e.framer = framer.New(stream, now, timeoutMs)
	e.framer.OnFrame(e.handleFrame)
	return e
}

// SetHandlers installs the LED/Sound/Move callbacks invoked on
// dispatch of a freshly-seen inbound command.
func (e *Engine) SetHandlers(h Handlers) { e.handlers = h }

// CurrentHandlers returns the handlers currently installed, so a
// caller can replace one variant's callback without clobbering the
// others.
func (e *Engine) CurrentHandlers() Handlers { return e.handlers }

// SetMaxRetries overrides DefaultMaxRetries.
func (e *Engine) SetMaxRetries(n uint32) { e.maxRetries = n }

// SetObserver installs an ambient hook notified of every tx/rx frame.
func (e *Engine) SetObserver(o Observer) { e.observer = o }

// Send encodes cmd, adds it to the sent window, records it in the
// outstanding table, and writes it to the stream. It returns false on
// any encode or write failure. An encode failure returns before the
// sent window or outstanding table is touched; after a write failure
// the outstanding/sent entries are retained so a later retry sweep can
// re-attempt the send.
func (e *Engine) Send(cmd command.Command) bool {
	payload, err := command.Encode(&cmd)
	if err != nil {
		log.Printf("reliability: encode failed for id=%d: %v", cmd.ID, err)
		return false
	}
	e.sent.Add(cmd)
	e.outstanding[cmd.ID] = &outstandingEntry{lastAttemptMs: e.now(), retryCount: 0}
	ok := e.writeFrame(payload)
	if ok && e.observer != nil {
		e.observer("tx", cmd)
	}
	return ok
}

// SendNack writes an unsolicited NACK for id with the given reason.
// The core protocol never calls this itself (spec preserves the
// source's behavior of never NACKing a decode/CRC failure); it exists
// for an application layer that decodes a command successfully but
// rejects it for its own reasons.
func (e *Engine) SendNack(id uint32, reason string) bool {
	return e.sendAck(id, false, reason)
}

func (e *Engine) writeFrame(payload []byte) bool {
	if e.stream.Write(framer.StartByte) == 0 {
		return false
	}
	if e.stream.Write(byte(len(payload))) == 0 {
		return false
	}
	if len(payload) > 0 && e.stream.WriteBytes(payload) != len(payload) {
		return false
	}
	if e.stream.Write(crc8.Compute(payload)) == 0 {
		return false
	}
	return true
}

// resend retransmits the sent-window copy of id, refreshing its
// outstanding entry's timestamp and incrementing its retry count. It
// is the single path by which retryCount advances, so a NACK-driven
// resend and a timeout-driven resend count against MAX_RETRIES
// identically.
func (e *Engine) resend(id uint32) bool {
	cmd, ok := e.sent.Get(id)
	if !ok {
		return false
	}
	payload, err := command.Encode(cmd)
	if err != nil {
		log.Printf("reliability: resend encode failed for id=%d: %v", id, err)
		return false
	}

	entry, ok := e.outstanding[id]
	if !ok {
		entry = &outstandingEntry{}
		e.outstanding[id] = entry
	}
	entry.lastAttemptMs = e.now()
	entry.retryCount++

	ok = e.writeFrame(payload)
	if ok && e.observer != nil {
		e.observer("tx", *cmd)
	}
	return ok
}

// HandleAck removes id from the outstanding table, if present. The
// sent-window entry is left in place for dedup-of-own-echo and
// introspection.
func (e *Engine) HandleAck(id uint32) {
	delete(e.outstanding, id)
}

// HandleNack immediately resends id if it is both outstanding and
// still held in the sent window; otherwise it is a no-op.
func (e *Engine) HandleNack(id uint32) {
	if _, ok := e.outstanding[id]; !ok {
		return
	}
	if _, ok := e.sent.Get(id); !ok {
		return
	}
	e.resend(id)
}

// RetrySweep retransmits every outstanding entry whose last attempt is
// older than the message timeout and whose retry count has not yet
// reached the cap, and drops any entry that has reached the cap.
func (e *Engine) RetrySweep() {
	now := e.now()

	ids := make([]uint32, 0, len(e.outstanding))
	for id := range e.outstanding {
		ids = append(ids, id)
	}

	for _, id := range ids {
		entry, ok := e.outstanding[id]
		if !ok {
			continue
		}
		if entry.retryCount >= e.maxRetries {
			delete(e.outstanding, id)
			continue
		}
		if now-entry.lastAttemptMs >= e.timeoutMs {
			e.resend(id)
		}
	}
}

// ProcessQueue drains one pass of the framer and sweeps outstanding
// retries, mirroring the facade's public ProcessQueue.
func (e *Engine) ProcessQueue() bool {
	delivered := e.framer.ReadFrame()
	e.RetrySweep()
	return delivered
}

// SentSize, ReceivedSize, and OutstandingSize expose window/table
// sizes for introspection (metrics, tests).
func (e *Engine) SentSize() int        { return e.sent.Size() }
func (e *Engine) ReceivedSize() int    { return e.received.Size() }
func (e *Engine) OutstandingSize() int { return len(e.outstanding) }

// Now returns the current reading of the engine's injected clock, in
// milliseconds. Used by higher layers (command id assignment) that
// need the same time source the engine uses for retries.
func (e *Engine) Now() uint64 { return e.now() }

// Outstanding returns the retry bookkeeping for id, if it is
// currently outstanding.
func (e *Engine) Outstanding(id uint32) (lastAttemptMs uint64, retryCount uint32, ok bool) {
	entry, ok := e.outstanding[id]
	if !ok {
		return 0, 0, false
	}
	return entry.lastAttemptMs, entry.retryCount, true
}
