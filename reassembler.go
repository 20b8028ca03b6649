package vdport

import (
	"github.com/pkg/errors"
)

// phase is the part of a frame the reassembler is currently filling.
type phase int

const (
	phaseChunkHeader phase = iota
	phaseMessageHeader
	phasePayload
)

func (p phase) String() string {
	switch p {
	case phaseChunkHeader:
		return "chunk header"
	case phaseMessageHeader:
		return "message header"
	case phasePayload:
		return "payload"
	default:
		return "unknown"
	}
}

// reassembler rebuilds frames from reads of arbitrary size. It never reads
// itself: the owner reads into buffer() and reports the byte count to
// advance. read counts the bytes of the current phase only and is always
// smaller than the phase size between calls.
type reassembler struct {
	phase phase
	read  int

	chunkBuf  [ChunkHeaderSize]byte
	headerBuf [MessageHeaderSize]byte

	chunk   ChunkHeader
	header  MessageHeader
	payload []byte

	maxPayload int
}

func newReassembler(maxPayload int) *reassembler {
	return &reassembler{maxPayload: maxPayload}
}

// buffer returns the bytes still missing from the current phase.
func (r *reassembler) buffer() []byte {
	switch r.phase {
	case phaseChunkHeader:
		return r.chunkBuf[r.read:]
	case phaseMessageHeader:
		return r.headerBuf[r.read:]
	default:
		return r.payload[r.read:]
	}
}

// advance accounts for n bytes read into buffer(). When a frame completes it
// is returned with done set and the reassembler is ready for the next one.
// A protocol error leaves the reassembler unusable; the owner tears down.
func (r *reassembler) advance(n int) (msg Message, done bool, err error) {
	if n <= 0 || n > len(r.buffer()) {
		return Message{}, false, errors.Errorf("read of %d bytes into %d byte %s buffer", n, len(r.buffer()), r.phase)
	}
	r.read += n

	switch r.phase {
	case phaseChunkHeader:
		if r.read < ChunkHeaderSize {
			return Message{}, false, nil
		}
		r.chunk = decodeChunkHeader(r.chunkBuf[:])
		if r.chunk.Size < MessageHeaderSize {
			return Message{}, false, errors.Wrapf(ErrChunkTooSmall, "chunk size %d", r.chunk.Size)
		}
		r.phase, r.read = phaseMessageHeader, 0
		return Message{}, false, nil

	case phaseMessageHeader:
		if r.read < MessageHeaderSize {
			return Message{}, false, nil
		}
		r.header = decodeMessageHeader(r.headerBuf[:])
		if r.header.Size != r.chunk.Size-MessageHeaderSize {
			return Message{}, false, errors.Wrapf(ErrSizeMismatch, "chunk size %d, message size %d", r.chunk.Size, r.header.Size)
		}
		if r.maxPayload > 0 && uint64(r.header.Size) > uint64(r.maxPayload) {
			return Message{}, false, errors.Wrapf(ErrMessageTooLarge, "message size %d, limit %d", r.header.Size, r.maxPayload)
		}
		if r.header.Size == 0 {
			return r.complete(), true, nil
		}
		r.payload = make([]byte, r.header.Size)
		r.phase, r.read = phasePayload, 0
		return Message{}, false, nil

	default:
		if r.read < len(r.payload) {
			return Message{}, false, nil
		}
		return r.complete(), true, nil
	}
}

// complete hands the assembled frame over and resets for the next one.
func (r *reassembler) complete() Message {
	msg := Message{Chunk: r.chunk, Header: r.header, Payload: r.payload}
	r.reset()
	return msg
}

// reset drops any partially assembled frame.
func (r *reassembler) reset() {
	r.phase, r.read = phaseChunkHeader, 0
	r.payload = nil
}
