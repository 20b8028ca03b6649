package vdport

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Wire sizes of the two fixed headers. Every frame on the channel is
// ChunkHeader || MessageHeader || payload, little-endian, without padding.
const (
	ChunkHeaderSize   = 8
	MessageHeaderSize = 20
)

// Chunk port identifiers carried in ChunkHeader.Port.
const (
	PortClient uint32 = 1
	PortServer uint32 = 2
)

// ProtocolVersion is the agent protocol version written by NewMessage.
const ProtocolVersion uint32 = 1

// Agent message types carried in MessageHeader.Type. The payload of each type
// is opaque to this package; the values are only used for logging.
const (
	TypeMouseState uint32 = iota + 1
	TypeMonitorsConfig
	TypeReply
	TypeClipboard
	TypeDisplayConfig
	TypeAnnounceCapabilities
	TypeClipboardGrab
	TypeClipboardRequest
	TypeClipboardRelease
	TypeFileXferStart
	TypeFileXferStatus
	TypeFileXferData
	TypeClientDisconnected
	TypeMaxClipboard
	TypeAudioVolumeSync
	TypeGraphicsDeviceInfo
)

var typeNames = [...]string{
	TypeMouseState:           "mouse state",
	TypeMonitorsConfig:       "monitors config",
	TypeReply:                "reply",
	TypeClipboard:            "clipboard",
	TypeDisplayConfig:        "display config",
	TypeAnnounceCapabilities: "announce capabilities",
	TypeClipboardGrab:        "clipboard grab",
	TypeClipboardRequest:     "clipboard request",
	TypeClipboardRelease:     "clipboard release",
	TypeFileXferStart:        "file xfer start",
	TypeFileXferStatus:       "file xfer status",
	TypeFileXferData:         "file xfer data",
	TypeClientDisconnected:   "client disconnected",
	TypeMaxClipboard:         "max clipboard",
	TypeAudioVolumeSync:      "audio volume sync",
	TypeGraphicsDeviceInfo:   "graphics device info",
}

// TypeName returns a human readable name for a message type.
func TypeName(t uint32) string {
	if t < uint32(len(typeNames)) && typeNames[t] != "" {
		return typeNames[t]
	}
	return fmt.Sprintf("invalid message (%d)", t)
}

// ChunkHeader is the outer envelope of a frame. Size covers the message
// header and the payload that follow it.
type ChunkHeader struct {
	Port uint32
	Size uint32
}

// MessageHeader is the inner header of a frame. Size is the payload length
// and must equal the enclosing chunk size minus MessageHeaderSize.
type MessageHeader struct {
	Protocol uint32
	Type     uint32
	Opaque   uint64
	Size     uint32
}

// Message is one complete frame as delivered to OnMessage.
// Payload is nil for zero-length messages and is owned by the receiver.
type Message struct {
	Chunk   ChunkHeader
	Header  MessageHeader
	Payload []byte
}

// NewMessage builds a message for the client port with consistent headers.
func NewMessage(msgType uint32, opaque uint64, payload []byte) Message {
	return Message{
		Chunk: ChunkHeader{
			Port: PortClient,
			Size: uint32(MessageHeaderSize + len(payload)),
		},
		Header: MessageHeader{
			Protocol: ProtocolVersion,
			Type:     msgType,
			Opaque:   opaque,
			Size:     uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Length returns the payload length.
func (m Message) Length() int {
	return len(m.Payload)
}

// Body returns the raw payload.
func (m Message) Body() []byte {
	return m.Payload
}

// Validate reports whether the headers agree with each other and the payload.
func (m Message) Validate() error {
	return checkFrame(m.Chunk, m.Header, len(m.Payload))
}

func checkFrame(chunk ChunkHeader, header MessageHeader, payloadLen int) error {
	if chunk.Size < MessageHeaderSize {
		return errors.Wrapf(ErrChunkTooSmall, "chunk size %d", chunk.Size)
	}
	if header.Size != chunk.Size-MessageHeaderSize {
		return errors.Wrapf(ErrSizeMismatch, "chunk size %d, message size %d", chunk.Size, header.Size)
	}
	if uint64(payloadLen) != uint64(header.Size) {
		return errors.Wrapf(ErrSizeMismatch, "message size %d, payload length %d", header.Size, payloadLen)
	}
	return nil
}

func (h ChunkHeader) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.Port)
	binary.LittleEndian.PutUint32(b[4:8], h.Size)
}

func decodeChunkHeader(b []byte) ChunkHeader {
	return ChunkHeader{
		Port: binary.LittleEndian.Uint32(b[0:4]),
		Size: binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (h MessageHeader) put(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.Protocol)
	binary.LittleEndian.PutUint32(b[4:8], h.Type)
	binary.LittleEndian.PutUint64(b[8:16], h.Opaque)
	binary.LittleEndian.PutUint32(b[16:20], h.Size)
}

func decodeMessageHeader(b []byte) MessageHeader {
	return MessageHeader{
		Protocol: binary.LittleEndian.Uint32(b[0:4]),
		Type:     binary.LittleEndian.Uint32(b[4:8]),
		Opaque:   binary.LittleEndian.Uint64(b[8:16]),
		Size:     binary.LittleEndian.Uint32(b[16:20]),
	}
}

// encodeFrame serializes a frame into one contiguous buffer. The caller has
// already validated the headers against the payload.
func encodeFrame(chunk ChunkHeader, header MessageHeader, payload []byte) []byte {
	buf := make([]byte, ChunkHeaderSize+MessageHeaderSize+len(payload))
	chunk.put(buf[:ChunkHeaderSize])
	header.put(buf[ChunkHeaderSize : ChunkHeaderSize+MessageHeaderSize])
	copy(buf[ChunkHeaderSize+MessageHeaderSize:], payload)
	return buf
}

// Encode returns the wire form of m.
func (m Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return encodeFrame(m.Chunk, m.Header, m.Payload), nil
}
