package command

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Top-level Command field numbers.
const (
	fieldID     protowire.Number = 1
	fieldSource protowire.Number = 2
	fieldTarget protowire.Number = 3
	fieldTag    protowire.Number = 4
	fieldData   protowire.Number = 5
)

// Variant sub-message field numbers.
const (
	fieldLedStart    protowire.Number = 1
	fieldLedEnd      protowire.Number = 2
	fieldLedDuration protowire.Number = 3

	fieldSoundID         protowire.Number = 1
	fieldSoundPlay       protowire.Number = 2
	fieldSoundSyncToLeds protowire.Number = 3

	fieldMoveTarget protowire.Number = 1
	fieldMoveX      protowire.Number = 2
	fieldMoveY      protowire.Number = 3
	fieldMoveZ      protowire.Number = 4

	fieldAckAcknowledged protowire.Number = 1
	fieldAckReason       protowire.Number = 2
)

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	var i uint64
	if v {
		i = 1
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, i)
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

// Encode renders cmd as a length-bounded byte slice. It fails if the
// encoded size would exceed MaxPayload.
func Encode(cmd *Command) ([]byte, error) {
	var sub []byte
	switch cmd.Tag {
	case TagLed:
		sub = encodeLed(cmd.Led)
	case TagSound:
		sub = encodeSound(cmd.Sound)
	case TagMove:
		sub = encodeMove(cmd.Move)
	case TagAck:
		sub = encodeAck(cmd.Ack)
	default:
		return nil, fmt.Errorf("command: encode: no variant set (tag=%v)", cmd.Tag)
	}

	b := make([]byte, 0, MaxPayload)
	b = appendUint32(b, fieldID, cmd.ID)
	b = appendUint32(b, fieldSource, uint32(cmd.Source))
	b = appendUint32(b, fieldTarget, uint32(cmd.Target))
	b = appendUint32(b, fieldTag, uint32(cmd.Tag))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, sub)

	if len(b) > MaxPayload {
		return nil, fmt.Errorf("command: encode: size %d exceeds max payload %d", len(b), MaxPayload)
	}
	return b, nil
}

func encodeLed(d LedData) []byte {
	var b []byte
	b = appendUint32(b, fieldLedStart, d.Start)
	b = appendUint32(b, fieldLedEnd, d.End)
	b = appendUint32(b, fieldLedDuration, d.Duration)
	return b
}

func encodeSound(d SoundData) []byte {
	var b []byte
	b = appendUint32(b, fieldSoundID, d.ID)
	b = appendBool(b, fieldSoundPlay, d.Play)
	b = appendBool(b, fieldSoundSyncToLeds, d.SyncToLeds)
	return b
}

func encodeMove(d MoveData) []byte {
	var b []byte
	b = appendUint32(b, fieldMoveTarget, uint32(d.Target))
	b = appendUint32(b, fieldMoveX, d.X)
	b = appendUint32(b, fieldMoveY, d.Y)
	b = appendUint32(b, fieldMoveZ, d.Z)
	return b
}

func encodeAck(d AckData) []byte {
	reason := d.Reason
	if len(reason) > MaxReasonLen {
		reason = reason[:MaxReasonLen]
	}
	var b []byte
	b = appendBool(b, fieldAckAcknowledged, d.Acknowledged)
	b = protowire.AppendTag(b, fieldAckReason, protowire.BytesType)
	b = protowire.AppendString(b, reason)
	return b
}

// Decode parses a Command from data, which must be exactly the
// payload bytes delivered by the framer (the codec is self-delimiting
// but relies on the caller not handing it trailing garbage).
func Decode(data []byte) (Command, error) {
	var cmd Command
	var haveID, haveSource, haveTarget, haveTag bool

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Command{}, fmt.Errorf("command: decode: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Command{}, fmt.Errorf("command: decode: bad varint field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldID:
				cmd.ID = uint32(v)
				haveID = true
			case fieldSource:
				cmd.Source = Region(v)
				haveSource = true
			case fieldTarget:
				cmd.Target = Region(v)
				haveTarget = true
			case fieldTag:
				cmd.Tag = Tag(v)
				haveTag = true
			default:
				return Command{}, fmt.Errorf("command: decode: unknown required field %d", num)
			}

		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Command{}, fmt.Errorf("command: decode: bad bytes field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if num != fieldData {
				return Command{}, fmt.Errorf("command: decode: unknown required field %d", num)
			}
			if !haveTag {
				return Command{}, fmt.Errorf("command: decode: variant payload precedes tag field")
			}
			var err error
			switch cmd.Tag {
			case TagLed:
				cmd.Led, err = decodeLed(v)
			case TagSound:
				cmd.Sound, err = decodeSound(v)
			case TagMove:
				cmd.Move, err = decodeMove(v)
			case TagAck:
				cmd.Ack, err = decodeAck(v)
			default:
				err = fmt.Errorf("command: decode: unrecognized variant tag %v", cmd.Tag)
			}
			if err != nil {
				return Command{}, err
			}

		default:
			return Command{}, fmt.Errorf("command: decode: unsupported wire type %v on field %d", typ, num)
		}
	}

	if !haveID || !haveSource || !haveTarget || !haveTag {
		return Command{}, fmt.Errorf("command: decode: truncated message (missing required field)")
	}
	return cmd, nil
}

func decodeLed(b []byte) (LedData, error) {
	var d LedData
	for len(b) > 0 {
		num, v, n, err := consumeVarintField(&b)
		if err != nil {
			return LedData{}, err
		}
		switch num {
		case fieldLedStart:
			d.Start = uint32(v)
		case fieldLedEnd:
			d.End = uint32(v)
		case fieldLedDuration:
			d.Duration = uint32(v)
		default:
			return LedData{}, fmt.Errorf("command: decode: unknown led field %d", num)
		}
		_ = n
	}
	return d, nil
}

func decodeSound(b []byte) (SoundData, error) {
	var d SoundData
	for len(b) > 0 {
		num, v, _, err := consumeVarintField(&b)
		if err != nil {
			return SoundData{}, err
		}
		switch num {
		case fieldSoundID:
			d.ID = uint32(v)
		case fieldSoundPlay:
			d.Play = v != 0
		case fieldSoundSyncToLeds:
			d.SyncToLeds = v != 0
		default:
			return SoundData{}, fmt.Errorf("command: decode: unknown sound field %d", num)
		}
	}
	return d, nil
}

func decodeMove(b []byte) (MoveData, error) {
	var d MoveData
	for len(b) > 0 {
		num, v, _, err := consumeVarintField(&b)
		if err != nil {
			return MoveData{}, err
		}
		switch num {
		case fieldMoveTarget:
			d.Target = Actuator(v)
		case fieldMoveX:
			d.X = uint32(v)
		case fieldMoveY:
			d.Y = uint32(v)
		case fieldMoveZ:
			d.Z = uint32(v)
		default:
			return MoveData{}, fmt.Errorf("command: decode: unknown move field %d", num)
		}
	}
	return d, nil
}

func decodeAck(b []byte) (AckData, error) {
	var d AckData
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return AckData{}, fmt.Errorf("command: decode: bad ack tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldAckAcknowledged:
			if typ != protowire.VarintType {
				return AckData{}, fmt.Errorf("command: decode: ack.acknowledged wrong wire type")
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return AckData{}, fmt.Errorf("command: decode: bad ack.acknowledged: %w", protowire.ParseError(n))
			}
			b = b[n:]
			d.Acknowledged = v != 0
		case fieldAckReason:
			if typ != protowire.BytesType {
				return AckData{}, fmt.Errorf("command: decode: ack.reason wrong wire type")
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return AckData{}, fmt.Errorf("command: decode: bad ack.reason: %w", protowire.ParseError(n))
			}
			b = b[n:]
			d.Reason = trimNUL(string(v))
		default:
			return AckData{}, fmt.Errorf("command: decode: unknown ack field %d", num)
		}
	}
	return d, nil
}

// consumeVarintField consumes one (tag, varint-value) pair from the
// front of *b, advancing it past the consumed bytes.
func consumeVarintField(b *[]byte) (protowire.Number, uint64, int, error) {
	num, typ, n := protowire.ConsumeTag(*b)
	if n < 0 {
		return 0, 0, 0, fmt.Errorf("command: decode: bad tag: %w", protowire.ParseError(n))
	}
	if typ != protowire.VarintType {
		return 0, 0, 0, fmt.Errorf("command: decode: field %d has non-varint wire type %v", num, typ)
	}
	*b = (*b)[n:]
	v, vn := protowire.ConsumeVarint(*b)
	if vn < 0 {
		return 0, 0, 0, fmt.Errorf("command: decode: bad varint for field %d: %w", num, protowire.ParseError(vn))
	}
	*b = (*b)[vn:]
	return num, v, n + vn, nil
}

func trimNUL(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i]
		}
	}
	return s
}
