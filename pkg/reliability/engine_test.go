package reliability

import (
	"testing"

	"github.com/roboregion/c110p/pkg/command"
	"github.com/roboregion/c110p/pkg/crc8"
	"github.com/roboregion/c110p/pkg/framer"
)

// loopbackStream is an in-memory Stream: writes are captured in out
// for assertion, and inbound bytes are hand-fed by tests via inject.
// Written bytes are not fed back into in.
type loopbackStream struct {
	in            []byte
	out           []byte
	failNextWrite bool
}

func (s *loopbackStream) Available() int { return len(s.in) }

func (s *loopbackStream) Read() int {
	if len(s.in) == 0 {
		return -1
	}
	b := s.in[0]
	s.in = s.in[1:]
	return int(b)
}

func (s *loopbackStream) Write(b byte) int {
	if s.failNextWrite {
		return 0
	}
	s.out = append(s.out, b)
	return 1
}

func (s *loopbackStream) WriteBytes(data []byte) int {
	if s.failNextWrite {
		return 0
	}
	s.out = append(s.out, data...)
	return len(data)
}

func (s *loopbackStream) inject(frame []byte) { s.in = append(s.in, frame...) }

func frameBytes(payload []byte) []byte {
	out := []byte{framer.StartByte, byte(len(payload))}
	out = append(out, payload...)
	out = append(out, crc8.Compute(payload))
	return out
}

func encodeOrFatal(t *testing.T, cmd command.Command) []byte {
	t.Helper()
	b, err := command.Encode(&cmd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return b
}

func newEngine(s *loopbackStream, now *uint64) *Engine {
	clock := func() uint64 { return *now }
	return New(s, command.RegionBody, clock, 1000)
}

func TestSendWritesFrameAndTracksOutstanding(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)

	cmd := command.Command{ID: 1, Source: command.RegionBody, Target: command.RegionDome, Tag: command.TagLed, Led: command.LedData{Start: 1}}
	if !e.Send(cmd) {
		t.Fatalf("Send() = false")
	}
	if e.OutstandingSize() != 1 {
		t.Fatalf("OutstandingSize() = %d, want 1", e.OutstandingSize())
	}
	if e.SentSize() != 1 {
		t.Fatalf("SentSize() = %d, want 1", e.SentSize())
	}
	if len(s.out) == 0 {
		t.Fatalf("expected bytes written to the stream")
	}
}

func TestSendWithWriteFailureStillTracksForRetry(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{failNextWrite: true}
	e := newEngine(s, &now)

	cmd := command.Command{ID: 10, Source: command.RegionBody, Target: command.RegionDome, Tag: command.TagLed}
	if e.Send(cmd) {
		t.Fatalf("Send() = true, want false when the stream write fails")
	}
	if e.SentSize() != 1 {
		t.Fatalf("SentSize() = %d, want 1 (send failure must not drop the sent-window entry)", e.SentSize())
	}
	if _, _, ok := e.Outstanding(10); !ok {
		t.Fatalf("expected id 10 to remain outstanding after a failed send, so a later retry sweep can resend it")
	}
}

func TestAckRemovesOutstandingEntry(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)

	cmd := command.Command{ID: 2, Source: command.RegionBody, Target: command.RegionDome, Tag: command.TagLed}
	e.Send(cmd)

	ack := command.Command{ID: 2, Source: command.RegionDome, Target: command.RegionBody, Tag: command.TagAck, Ack: command.AckData{Acknowledged: true}}
	s.inject(frameBytes(encodeOrFatal(t, ack)))

	e.ProcessQueue()

	if e.OutstandingSize() != 0 {
		t.Fatalf("expected ack to clear the outstanding entry, OutstandingSize() = %d", e.OutstandingSize())
	}
}

func TestNackTriggersImmediateResendAndCountsAsRetry(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)

	cmd := command.Command{ID: 3, Source: command.RegionBody, Target: command.RegionDome, Tag: command.TagLed}
	e.Send(cmd)
	s.out = nil // clear the initial send's bytes

	nack := command.Command{ID: 3, Source: command.RegionDome, Target: command.RegionBody, Tag: command.TagAck, Ack: command.AckData{Acknowledged: false, Reason: "busy"}}
	s.inject(frameBytes(encodeOrFatal(t, nack)))
	e.ProcessQueue()

	if len(s.out) == 0 {
		t.Fatalf("expected an immediate resend on nack")
	}
	_, retries, ok := e.Outstanding(3)
	if !ok {
		t.Fatalf("expected id 3 to still be outstanding after a nack-driven resend")
	}
	if retries != 1 {
		t.Fatalf("retryCount = %d, want 1", retries)
	}
}

func TestRetrySweepResendsAfterTimeoutAndDropsAtMaxRetries(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)
	e.SetMaxRetries(2)

	cmd := command.Command{ID: 4, Source: command.RegionBody, Target: command.RegionDome, Tag: command.TagLed}
	e.Send(cmd)

	now = 1000
	e.RetrySweep()
	_, retries, ok := e.Outstanding(4)
	if !ok || retries != 1 {
		t.Fatalf("after first sweep: ok=%v retries=%d, want ok=true retries=1", ok, retries)
	}

	now = 2000
	e.RetrySweep()
	_, retries, ok = e.Outstanding(4)
	if !ok || retries != 2 {
		t.Fatalf("after second sweep: ok=%v retries=%d, want ok=true retries=2", ok, retries)
	}

	now = 3000
	e.RetrySweep()
	if _, _, ok := e.Outstanding(4); ok {
		t.Fatalf("expected id 4 to be dropped once retryCount reaches maxRetries")
	}
}

func TestInboundCommandIsDedupedAckedAndDispatchedOnce(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)

	calls := 0
	e.SetHandlers(Handlers{Led: func(command.Command) { calls++ }})

	in := command.Command{ID: 5, Source: command.RegionDome, Target: command.RegionBody, Tag: command.TagLed, Led: command.LedData{Start: 1}}
	encoded := encodeOrFatal(t, in)

	s.inject(frameBytes(encoded))
	e.ProcessQueue()
	s.inject(frameBytes(encoded))
	e.ProcessQueue()

	if calls != 1 {
		t.Fatalf("handler invoked %d times, want exactly 1", calls)
	}
	if len(s.out) == 0 {
		t.Fatalf("expected an ack to be written for the inbound command")
	}
	if e.ReceivedSize() != 1 {
		t.Fatalf("ReceivedSize() = %d, want 1", e.ReceivedSize())
	}
}

func TestInboundCommandAlwaysReAcked(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)

	in := command.Command{ID: 6, Source: command.RegionDome, Target: command.RegionBody, Tag: command.TagMove}
	encoded := encodeOrFatal(t, in)

	s.inject(frameBytes(encoded))
	e.ProcessQueue()
	firstAckBytes := len(s.out)
	if firstAckBytes == 0 {
		t.Fatalf("expected an ack to be written for a first-seen command")
	}

	s.inject(frameBytes(encoded))
	e.ProcessQueue()
	if len(s.out) <= firstAckBytes {
		t.Fatalf("expected a second ack to be written even for an already-seen command")
	}
}

func TestUndecodableFrameIsDroppedNotNacked(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)

	// START, LEN=0, CRC=0x00 is a well-framed, CRC-valid, zero-length
	// payload that fails to decode (missing all required fields).
	s.inject(frameBytes(nil))
	e.ProcessQueue()

	if len(s.out) != 0 {
		t.Fatalf("expected no bytes written for an undecodable frame, got %d", len(s.out))
	}
}

func TestSendNackWritesUnsolicitedNack(t *testing.T) {
	now := uint64(0)
	s := &loopbackStream{}
	e := newEngine(s, &now)

	if !e.SendNack(7, "rejected") {
		t.Fatalf("SendNack() = false")
	}
	if len(s.out) == 0 {
		t.Fatalf("expected SendNack to write a frame")
	}
}
