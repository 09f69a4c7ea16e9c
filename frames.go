package quicframing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	. "github.com/QUIC-Tracker/quic-framing/lib"
)

type Frame interface {
	FrameType() FrameType
	WriteTo(buffer *bytes.Buffer)
	ShouldBeRetransmitted() bool
	FrameLength() uint16
}

// NewFrame decodes the next frame of the buffer. It returns (nil, nil) when
// the buffer is exhausted, and an error on an unknown type byte or any
// malformed frame, in which case the containing packet must be discarded.
func NewFrame(buffer *bytes.Reader) (Frame, error) {
	typeByte, err := buffer.ReadByte()
	if err == io.EOF {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	buffer.UnreadByte()
	frameType := FrameType(typeByte)
	switch {
	case frameType >= StreamType:
		frame, err := NewStreamFrame(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == PaddingFrameType:
		frame, err := NewPaddingFrame(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == ConnectionCloseType:
		frame, err := NewConnectionCloseFrame(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == ApplicationCloseType:
		frame, err := NewApplicationCloseFrame(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == PingType:
		frame, err := NewPingFrame(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == StreamIdBlockedType:
		frame, err := NewStreamIdBlockedFrame(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == AckType:
		frame, err := NewAckFrame(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == PathChallengeType:
		frame, err := NewPathChallenge(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	case frameType == PathResponseType:
		frame, err := NewPathResponse(buffer)
		if err != nil {
			return nil, err
		}
		return frame, nil
	default:
		return nil, errors.New(fmt.Sprintf("unknown frame type %d", typeByte))
	}
}

type FrameType uint64

const (
	PaddingFrameType     FrameType = 0x00
	ConnectionCloseType  FrameType = 0x02
	ApplicationCloseType FrameType = 0x03
	PingType             FrameType = 0x07
	StreamIdBlockedType  FrameType = 0x0a
	AckType              FrameType = 0x0d
	PathChallengeType    FrameType = 0x0e
	PathResponseType     FrameType = 0x0f
	StreamType           FrameType = 0x10
)

func (t FrameType) String() string {
	if t >= StreamType {
		return "STREAM"
	}
	switch t {
	case PaddingFrameType:
		return "PADDING"
	case ConnectionCloseType:
		return "CONNECTION_CLOSE"
	case ApplicationCloseType:
		return "APPLICATION_CLOSE"
	case PingType:
		return "PING"
	case StreamIdBlockedType:
		return "STREAM_ID_BLOCKED"
	case AckType:
		return "ACK"
	case PathChallengeType:
		return "PATH_CHALLENGE"
	case PathResponseType:
		return "PATH_RESPONSE"
	default:
		return fmt.Sprintf("frame type 0x%x", uint64(t))
	}
}

// PaddingFrame is a run of zero bytes. The type byte is itself part of the
// run, so the length is never less than 1 for a decoded frame.
type PaddingFrame uint64

func (frame PaddingFrame) FrameType() FrameType { return PaddingFrameType }
func (frame PaddingFrame) WriteTo(buffer *bytes.Buffer) {
	buffer.Write(make([]byte, frame))
}
func (frame PaddingFrame) ShouldBeRetransmitted() bool { return false }
func (frame PaddingFrame) FrameLength() uint16         { return uint16(frame) }
func NewPaddingFrame(buffer *bytes.Reader) (PaddingFrame, error) {
	var length uint64
	for {
		b, err := buffer.ReadByte()
		if err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}
		if b != 0 {
			buffer.UnreadByte()
			break
		}
		length++
	}
	return PaddingFrame(length), nil
}

type PingFrame byte

func (frame PingFrame) FrameType() FrameType { return PingType }
func (frame PingFrame) WriteTo(buffer *bytes.Buffer) {
	WriteVarInt(buffer, uint64(frame.FrameType()))
}
func (frame PingFrame) ShouldBeRetransmitted() bool { return true }
func (frame PingFrame) FrameLength() uint16         { return 1 }
func NewPingFrame(buffer *bytes.Reader) (*PingFrame, error) {
	frame := new(PingFrame)
	buffer.ReadByte() // Discard frame type
	return frame, nil
}

// CloseFrame is the payload shared by ConnectionCloseFrame and
// ApplicationCloseFrame. The type byte distinguishing the two is written by
// the enclosing frame, not here.
type CloseFrame struct {
	ErrorCode    uint16
	ReasonPhrase string
}

func (frame CloseFrame) writePayload(buffer *bytes.Buffer) {
	binary.Write(buffer, binary.BigEndian, frame.ErrorCode)
	WriteVarInt(buffer, uint64(len(frame.ReasonPhrase)))
	if len(frame.ReasonPhrase) > 0 {
		buffer.Write([]byte(frame.ReasonPhrase))
	}
}
func (frame CloseFrame) payloadLength() uint16 {
	return 2 + uint16(VarIntLen(uint64(len(frame.ReasonPhrase)))) + uint16(len(frame.ReasonPhrase))
}
func readCloseFrame(buffer *bytes.Reader) (CloseFrame, error) {
	var frame CloseFrame
	if err := binary.Read(buffer, binary.BigEndian, &frame.ErrorCode); err != nil {
		return frame, err
	}
	reasonLength, _, err := ReadVarIntValue(buffer)
	if err != nil {
		return frame, err
	}
	if reasonLength > uint64(buffer.Len()) {
		return frame, fmt.Errorf("close frame reason length %d exceeds the %d remaining bytes", reasonLength, buffer.Len())
	}
	reasonBytes := make([]byte, reasonLength)
	if _, err := io.ReadFull(buffer, reasonBytes); err != nil {
		return frame, err
	}
	if !utf8.Valid(reasonBytes) {
		return frame, errors.New("close frame reason phrase is not valid UTF-8")
	}
	frame.ReasonPhrase = string(reasonBytes)
	return frame, nil
}

type ConnectionCloseFrame struct {
	CloseFrame
}

func (frame ConnectionCloseFrame) FrameType() FrameType { return ConnectionCloseType }
func (frame ConnectionCloseFrame) WriteTo(buffer *bytes.Buffer) {
	WriteVarInt(buffer, uint64(frame.FrameType()))
	frame.writePayload(buffer)
}
func (frame ConnectionCloseFrame) ShouldBeRetransmitted() bool { return false }
func (frame ConnectionCloseFrame) FrameLength() uint16         { return 1 + frame.payloadLength() }
func NewConnectionCloseFrame(buffer *bytes.Reader) (*ConnectionCloseFrame, error) {
	buffer.ReadByte() // Discard frame type
	payload, err := readCloseFrame(buffer)
	if err != nil {
		return nil, err
	}
	return &ConnectionCloseFrame{payload}, nil
}

type ApplicationCloseFrame struct {
	CloseFrame
}

func (frame ApplicationCloseFrame) FrameType() FrameType { return ApplicationCloseType }
func (frame ApplicationCloseFrame) WriteTo(buffer *bytes.Buffer) {
	WriteVarInt(buffer, uint64(frame.FrameType()))
	frame.writePayload(buffer)
}
func (frame ApplicationCloseFrame) ShouldBeRetransmitted() bool { return false }
func (frame ApplicationCloseFrame) FrameLength() uint16         { return 1 + frame.payloadLength() }
func NewApplicationCloseFrame(buffer *bytes.Reader) (*ApplicationCloseFrame, error) {
	buffer.ReadByte() // Discard frame type
	payload, err := readCloseFrame(buffer)
	if err != nil {
		return nil, err
	}
	return &ApplicationCloseFrame{payload}, nil
}

// PathFrame is the 8-byte payload shared by PathChallenge and PathResponse.
type PathFrame struct {
	Data [8]byte
}

func (frame PathFrame) writePayload(buffer *bytes.Buffer) {
	buffer.Write(frame.Data[:])
}
func readPathFrame(buffer *bytes.Reader) (PathFrame, error) {
	var frame PathFrame
	if _, err := io.ReadFull(buffer, frame.Data[:]); err != nil {
		return frame, err
	}
	return frame, nil
}

type PathChallenge struct {
	PathFrame
}

func (frame PathChallenge) FrameType() FrameType { return PathChallengeType }
func (frame PathChallenge) WriteTo(buffer *bytes.Buffer) {
	WriteVarInt(buffer, uint64(frame.FrameType()))
	frame.writePayload(buffer)
}
func (frame PathChallenge) ShouldBeRetransmitted() bool { return true }
func (frame PathChallenge) FrameLength() uint16         { return 1 + 8 }
func NewPathChallenge(buffer *bytes.Reader) (*PathChallenge, error) {
	buffer.ReadByte() // Discard frame type
	payload, err := readPathFrame(buffer)
	if err != nil {
		return nil, err
	}
	return &PathChallenge{payload}, nil
}

type PathResponse struct {
	PathFrame
}

func (frame PathResponse) FrameType() FrameType { return PathResponseType }
func (frame PathResponse) WriteTo(buffer *bytes.Buffer) {
	WriteVarInt(buffer, uint64(frame.FrameType()))
	frame.writePayload(buffer)
}
func (frame PathResponse) ShouldBeRetransmitted() bool { return false }
func (frame PathResponse) FrameLength() uint16         { return 1 + 8 }
func NewPathResponse(buffer *bytes.Reader) (*PathResponse, error) {
	buffer.ReadByte() // Discard frame type
	payload, err := readPathFrame(buffer)
	if err != nil {
		return nil, err
	}
	return &PathResponse{payload}, nil
}

// StreamIdBlockedFrame reports that the sender wanted to open the carried
// stream id but the peer's advertised limit did not allow it.
type StreamIdBlockedFrame struct {
	StreamId uint64
}

func (frame StreamIdBlockedFrame) FrameType() FrameType { return StreamIdBlockedType }
func (frame StreamIdBlockedFrame) WriteTo(buffer *bytes.Buffer) {
	WriteVarInt(buffer, uint64(frame.FrameType()))
	WriteVarInt(buffer, frame.StreamId)
}
func (frame StreamIdBlockedFrame) ShouldBeRetransmitted() bool { return true }
func (frame StreamIdBlockedFrame) FrameLength() uint16 {
	return 1 + uint16(VarIntLen(frame.StreamId))
}
func NewStreamIdBlockedFrame(buffer *bytes.Reader) (*StreamIdBlockedFrame, error) {
	frame := new(StreamIdBlockedFrame)
	buffer.ReadByte() // Discard frame type
	var err error
	frame.StreamId, _, err = ReadVarIntValue(buffer)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

type StreamFrame struct {
	FinBit bool
	// LenBit records whether the data length is explicit on the wire. When
	// it is clear the data extends to the end of the packet and Length only
	// reflects the size inferred from the buffer boundary.
	LenBit bool

	StreamId   uint64
	Offset     uint64
	Length     uint64
	StreamData []byte
}

func (frame StreamFrame) FrameType() FrameType { return StreamType }
func (frame StreamFrame) WriteTo(buffer *bytes.Buffer) {
	typeByte := uint64(frame.FrameType())
	if frame.FinBit {
		typeByte |= 0x01
	}
	if frame.LenBit {
		typeByte |= 0x02
	}
	// An offset of zero is implicit and never encoded.
	if frame.Offset > 0 {
		typeByte |= 0x04
	}
	WriteVarInt(buffer, typeByte)
	WriteVarInt(buffer, frame.StreamId)
	if frame.Offset > 0 {
		WriteVarInt(buffer, frame.Offset)
	}
	if frame.LenBit {
		WriteVarInt(buffer, frame.Length)
	}
	buffer.Write(frame.StreamData)
}
func (frame StreamFrame) ShouldBeRetransmitted() bool { return true }
func (frame StreamFrame) FrameLength() uint16 {
	length := 1 + uint16(VarIntLen(frame.StreamId))
	if frame.Offset > 0 {
		length += uint16(VarIntLen(frame.Offset))
	}
	if frame.LenBit {
		length += uint16(VarIntLen(frame.Length))
	}
	return length + uint16(len(frame.StreamData))
}
func NewStreamFrame(buffer *bytes.Reader) (*StreamFrame, error) {
	frame := new(StreamFrame)
	typeByte, err := buffer.ReadByte()
	if err != nil {
		return nil, err
	}
	frame.FinBit = typeByte&0x01 == 0x01
	frame.LenBit = typeByte&0x02 == 0x02

	frame.StreamId, _, err = ReadVarIntValue(buffer)
	if err != nil {
		return nil, err
	}
	if typeByte&0x04 == 0x04 {
		frame.Offset, _, err = ReadVarIntValue(buffer)
		if err != nil {
			return nil, err
		}
	}
	if frame.LenBit {
		frame.Length, _, err = ReadVarIntValue(buffer)
		if err != nil {
			return nil, err
		}
		if frame.Length > uint64(buffer.Len()) {
			return nil, fmt.Errorf("stream frame length %d exceeds the %d remaining bytes", frame.Length, buffer.Len())
		}
	} else {
		frame.Length = uint64(buffer.Len())
	}
	frame.StreamData = make([]byte, frame.Length)
	if _, err := io.ReadFull(buffer, frame.StreamData); err != nil {
		return nil, err
	}
	return frame, nil
}

type AckFrame struct {
	LargestAcknowledged PacketNumber
	AckDelay            uint64
	AckBlocks           []AckBlock
}

// AckBlock is one run of the acknowledgement ranges of an AckFrame. The Gap
// tag is positional on the wire: blocks at even indexes acknowledge packets,
// blocks at odd indexes skip them. Only Length is encoded.
type AckBlock struct {
	Gap    bool
	Length uint64
}

func (frame AckFrame) FrameType() FrameType        { return AckType }
func (frame AckFrame) ShouldBeRetransmitted() bool { return false }
func (frame AckFrame) WriteTo(buffer *bytes.Buffer) {
	WriteVarInt(buffer, uint64(frame.FrameType()))
	WriteVarInt(buffer, uint64(frame.LargestAcknowledged))
	WriteVarInt(buffer, frame.AckDelay)
	WriteVarInt(buffer, uint64(len(frame.AckBlocks)-1))
	for _, block := range frame.AckBlocks {
		WriteVarInt(buffer, block.Length)
	}
}
func (frame AckFrame) FrameLength() uint16 {
	length := 1 + uint16(VarIntLen(uint64(frame.LargestAcknowledged))+VarIntLen(frame.AckDelay)+VarIntLen(uint64(len(frame.AckBlocks)-1)))
	for _, block := range frame.AckBlocks {
		length += uint16(VarIntLen(block.Length))
	}
	return length
}

// GetAckedPackets expands the acknowledgement ranges into the packet numbers
// they cover, from the largest downwards. A block of length n spans n+1
// packet numbers.
func (frame AckFrame) GetAckedPackets() []PacketNumber {
	var packets []PacketNumber
	current := frame.LargestAcknowledged
	for _, block := range frame.AckBlocks {
		for i := uint64(0); i <= block.Length; i++ {
			if !block.Gap {
				packets = append(packets, current)
			}
			current--
		}
	}
	return packets
}

func NewAckFrame(buffer *bytes.Reader) (*AckFrame, error) {
	frame := new(AckFrame)
	buffer.ReadByte() // Discard frame type

	largest, _, err := ReadVarIntValue(buffer)
	if err != nil {
		return nil, err
	}
	frame.LargestAcknowledged = PacketNumber(largest)
	frame.AckDelay, _, err = ReadVarIntValue(buffer)
	if err != nil {
		return nil, err
	}
	blockCount, _, err := ReadVarIntValue(buffer)
	if err != nil {
		return nil, err
	}
	// The count of blocks after the first must be even to end on an Ack run.
	if blockCount%2 != 0 {
		return nil, fmt.Errorf("ack frame with an odd count of %d trailing blocks", blockCount)
	}
	for i := uint64(0); i <= blockCount; i++ {
		length, _, err := ReadVarIntValue(buffer)
		if err != nil {
			return nil, err
		}
		frame.AckBlocks = append(frame.AckBlocks, AckBlock{Gap: i%2 == 1, Length: length})
	}
	return frame, nil
}
