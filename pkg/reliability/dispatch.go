package reliability

import (
	"log"

	"github.com/roboregion/c110p/pkg/command"
)

// handleFrame is the framer's OnFrame callback: it decodes the
// payload and either resolves an ACK/NACK against the outstanding
// table, or dedups and dispatches an inbound command, always
// re-acknowledging it regardless of whether it was already seen.
func (e *Engine) handleFrame(payload []byte) {
	cmd, err := command.Decode(payload)
	if err != nil {
		// Decode/CRC failures are silently dropped; the source never
		// NACKs a frame it could not even parse.
		log.Printf("reliability: dropping undecodable frame: %v", err)
		return
	}

	if e.observer != nil {
		e.observer("rx", cmd)
	}

	if cmd.Tag == command.TagAck {
		if cmd.Ack.Acknowledged {
			e.HandleAck(cmd.ID)
		} else {
			e.HandleNack(cmd.ID)
		}
		return
	}

	alreadySeen := e.received.Contains(cmd.ID)
	e.received.Add(cmd)
	e.sendAck(cmd.ID, true, "")
	if alreadySeen {
		return
	}
	e.dispatch(cmd)
}

// sendAck writes an ACK/NACK frame for id. It bypasses the sent
// window and outstanding table entirely: ACK frames are never
// themselves retried.
func (e *Engine) sendAck(id uint32, ok bool, reason string) bool {
	ack := command.Command{
		ID:     id,
		Source: e.region,
		Target: e.region,
		Tag:    command.TagAck,
		Ack:    command.AckData{Acknowledged: ok, Reason: reason},
	}
	payload, err := command.Encode(&ack)
	if err != nil {
		log.Printf("reliability: ack encode failed for id=%d: %v", id, err)
		return false
	}
	sent := e.writeFrame(payload)
	if sent && e.observer != nil {
		e.observer("tx", ack)
	}
	return sent
}

// dispatch invokes the handler matching cmd's tag, if one is
// installed. The re-entrancy guard exists because handlers run
// synchronously from within ReadFrame/ProcessQueue and must not
// recursively drive the queue.
func (e *Engine) dispatch(cmd command.Command) {
	if e.dispatching {
		log.Printf("reliability: dropping reentrant dispatch for id=%d", cmd.ID)
		return
	}
	e.dispatching = true
	defer func() { e.dispatching = false }()

	switch cmd.Tag {
	case command.TagLed:
		if e.handlers.Led != nil {
			e.handlers.Led(cmd)
		}
	case command.TagSound:
		if e.handlers.Sound != nil {
			e.handlers.Sound(cmd)
		}
	case command.TagMove:
		if e.handlers.Move != nil {
			e.handlers.Move(cmd)
		}
	default:
		log.Printf("reliability: dropping unknown variant tag %v for id=%d", cmd.Tag, cmd.ID)
	}
}
