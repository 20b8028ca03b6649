// Package capture stores agent messages in CBOR capture files so a session
// can be inspected or replayed later. A capture file is a plain sequence of
// CBOR-encoded Records.
package capture

import (
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/Zereker/vdport"
)

// Record is one captured message.
type Record struct {
	Time     time.Time `cbor:"1,keyasint"`
	Port     uint32    `cbor:"2,keyasint"`
	Protocol uint32    `cbor:"3,keyasint"`
	Type     uint32    `cbor:"4,keyasint"`
	Opaque   uint64    `cbor:"5,keyasint"`
	Payload  []byte    `cbor:"6,keyasint,omitempty"`
}

// FromMessage records msg as received at t.
func FromMessage(msg vdport.Message, t time.Time) Record {
	return Record{
		Time:     t,
		Port:     msg.Chunk.Port,
		Protocol: msg.Header.Protocol,
		Type:     msg.Header.Type,
		Opaque:   msg.Header.Opaque,
		Payload:  msg.Payload,
	}
}

// Message rebuilds the frame. Sizes are derived from the payload so the
// result always passes validation.
func (r Record) Message() vdport.Message {
	msg := vdport.NewMessage(r.Type, r.Opaque, r.Payload)
	msg.Chunk.Port = r.Port
	msg.Header.Protocol = r.Protocol
	return msg
}

// encMode writes records with Core Deterministic Encoding and RFC 3339
// timestamps.
var encMode cbor.EncMode

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("capture: CBOR encoder initialization failed: " + err.Error())
	}
}

// Writer appends records to a capture stream.
type Writer struct {
	enc   *cbor.Encoder
	count int
}

// NewWriter returns a Writer encoding onto w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: encMode.NewEncoder(w)}
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return errors.Wrapf(err, "encode record %d", w.count)
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

// Reader reads records from a capture stream.
type Reader struct {
	dec   *cbor.Decoder
	count int
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, errors.Wrapf(err, "decode record %d", r.count)
	}
	r.count++
	return rec, nil
}
