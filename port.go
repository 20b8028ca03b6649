// Package vdport frames agent messages over a single bidirectional byte
// channel, such as a virtio-serial port, without ever blocking.
//
// A Port reassembles inbound bytes into messages and queues outbound
// messages until the channel accepts them. It does no I/O on its own: an
// event loop asks WantsRead and WantsWrite, waits for readiness, and calls
// HandleReadable or HandleWritable, each of which performs at most one
// read or write. Loop is such an event loop built on poll(2).
package vdport

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Errors returned by port operations.
var (
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrInvalidDevice is returned when NewPort is given a nil device.
	ErrInvalidDevice = errors.New("invalid device")
	// ErrMessageTooLarge is returned when a payload exceeds the configured maximum.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrChunkTooSmall is a chunk header declaring less than a message header.
	ErrChunkTooSmall = errors.New("chunk size smaller than message header")
	// ErrSizeMismatch is a message header that disagrees with its chunk header
	// or payload.
	ErrSizeMismatch = errors.New("chunk vs message header size mismatch")
	// ErrClosedByHandler is the disconnect cause when OnMessage returns Disconnect.
	ErrClosedByHandler = errors.New("closed by message handler")
)

// ErrPortClosed is returned when operating on a closed port.
var ErrPortClosed = errors.New("port closed")

// ErrBufferFull is returned by Send when the send queue already holds the
// number of frames set with MaxQueueDepthOption. Nothing is queued; the
// caller may retry after the port has drained, or drop the message.
var ErrBufferFull = errors.New("send buffer full")

// Default configuration values.
const (
	// defaultMaxMessageSize is the default maximum payload of a single message (1MB).
	defaultMaxMessageSize = 1024 * 1024
)

// Port is one end of an agent channel.
//
// A Port is driven by a single goroutine: the handlers, Send and Close must
// not be called concurrently. IsClosed may be called from anywhere.
type Port struct {
	dev    Device
	name   string
	logger Logger

	opts options

	in  *reassembler
	out sendQueue

	userData any
	closed   atomic.Bool
}

// Open opens the channel node at path and returns a port reading and
// writing it. A missing or unopenable node yields a nil port and an error.
func Open(path string, opt ...Option) (*Port, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	dev, err := openDevice(path)
	if err != nil {
		opts.logger.Error("cannot open agent channel", "device", path, "error", err)
		return nil, err
	}

	return newPortWithOptions(dev, opts), nil
}

// NewPort creates a port around an already open device.
// Returns an error if required options (onMessage) are missing.
func NewPort(dev Device, opt ...Option) (*Port, error) {
	if dev == nil {
		return nil, ErrInvalidDevice
	}

	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newPortWithOptions(dev, opts), nil
}

// checkOptions validates and sets default values for port options.
func checkOptions(opts *options) error {
	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.maxQueueDepth < 0 {
		opts.maxQueueDepth = 0
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newPortWithOptions(dev Device, opts options) *Port {
	p := &Port{
		dev:      dev,
		name:     deviceName(dev),
		logger:   opts.logger,
		opts:     opts,
		in:       newReassembler(opts.maxMessageSize),
		userData: opts.userData,
	}

	p.logger.Info("port opened", "device", p.name)
	p.logger.Debug("port options", "device", p.name,
		"max_queue_depth", opts.maxQueueDepth,
		"max_message_size", opts.maxMessageSize)

	return p
}

func deviceName(dev Device) string {
	if s, ok := dev.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("fd %d", dev.Fd())
}

// Name returns the device path or description.
func (p *Port) Name() string {
	return p.name
}

// Fd returns the descriptor to wait on.
func (p *Port) Fd() int {
	return p.dev.Fd()
}

// UserData returns the data attached with UserDataOption or SetUserData.
func (p *Port) UserData() any {
	return p.userData
}

// SetUserData attaches caller data to the port.
func (p *Port) SetUserData(data any) {
	p.userData = data
}

// IsClosed returns true if the port has been torn down.
func (p *Port) IsClosed() bool {
	return p.closed.Load()
}

// WantsRead reports read interest. An open port always wants to read so it
// notices both data and hang-up.
func (p *Port) WantsRead() bool {
	return !p.closed.Load()
}

// WantsWrite reports write interest: true iff frames are waiting.
func (p *Port) WantsWrite() bool {
	return !p.closed.Load() && !p.out.empty()
}

// Pending returns the number of frames waiting to be written.
func (p *Port) Pending() int {
	return p.out.len()
}

// Send queues one frame. The message header size must equal the chunk size
// minus MessageHeaderSize and the payload length; otherwise Send returns
// ErrSizeMismatch and leaves the queue untouched. The payload is copied.
func (p *Port) Send(chunk ChunkHeader, header MessageHeader, payload []byte) error {
	if p.closed.Load() {
		return ErrPortClosed
	}

	if err := checkFrame(chunk, header, len(payload)); err != nil {
		p.logger.Error("send rejected", "device", p.name,
			"chunk_size", chunk.Size, "message_size", header.Size,
			"payload_length", len(payload), "error", err)
		return err
	}

	if uint64(header.Size) > uint64(p.opts.maxMessageSize) {
		return errors.Wrapf(ErrMessageTooLarge, "message size %d, limit %d", header.Size, p.opts.maxMessageSize)
	}

	if p.opts.maxQueueDepth > 0 && p.out.len() >= p.opts.maxQueueDepth {
		return ErrBufferFull
	}

	p.out.push(encodeFrame(chunk, header, payload))
	logHeader(p.logger, p.name, "queued message", chunk, header)
	return nil
}

// SendMessage queues msg, see Send.
func (p *Port) SendMessage(msg Message) error {
	return p.Send(msg.Chunk, msg.Header, msg.Payload)
}

// HandleReadable performs one read and feeds it to the reassembler,
// delivering at most one message. It returns Disconnect when the port has
// been torn down.
func (p *Port) HandleReadable() Action {
	if p.closed.Load() {
		return Disconnect
	}

	n, err := p.dev.Read(p.in.buffer())
	if err != nil {
		if isTemporary(err) {
			return Continue
		}
		if errors.Is(err, io.EOF) {
			p.logger.Info("peer closed the channel", "device", p.name)
			p.teardown(io.EOF)
		} else {
			p.logger.Error("read error", "device", p.name, "error", err)
			p.teardown(errors.Wrap(err, "read"))
		}
		return Disconnect
	}
	if n == 0 {
		p.logger.Info("peer closed the channel", "device", p.name)
		p.teardown(io.EOF)
		return Disconnect
	}

	msg, done, err := p.in.advance(n)
	if err != nil {
		p.logger.Error("protocol error, disconnecting", "device", p.name,
			"phase", p.in.phase.String(),
			"chunk_size", p.in.chunk.Size,
			"message_size", p.in.header.Size,
			"error", err)
		p.teardown(err)
		return Disconnect
	}
	if !done {
		return Continue
	}

	logHeader(p.logger, p.name, "received message", msg.Chunk, msg.Header)
	if p.opts.onMessage(p, msg) == Disconnect {
		p.teardown(ErrClosedByHandler)
		return Disconnect
	}
	if p.closed.Load() {
		return Disconnect
	}
	return Continue
}

// HandleWritable performs one write of the head frame.
func (p *Port) HandleWritable() Action {
	if p.closed.Load() {
		return Disconnect
	}

	f := p.out.front()
	if f == nil {
		p.logger.Warn("writable notification without pending frames", "device", p.name)
		return Continue
	}

	n, err := p.dev.Write(f.remaining())
	if err != nil {
		if isTemporary(err) {
			return Continue
		}
		p.logger.Error("write error", "device", p.name, "error", err)
		p.teardown(errors.Wrap(err, "write"))
		return Disconnect
	}

	if n > 0 && p.out.advance(n) {
		p.logger.Debug("frame sent", "device", p.name, "pending", p.out.len())
	}
	return Continue
}

// HandleEvents dispatches one round of readiness: the read first, then the
// write if the port survived it.
func (p *Port) HandleEvents(readable, writable bool) Action {
	if readable && p.HandleReadable() == Disconnect {
		return Disconnect
	}
	if writable && !p.out.empty() {
		return p.HandleWritable()
	}
	if p.closed.Load() {
		return Disconnect
	}
	return Continue
}

// Run drives the port with its own Loop until the port disconnects or the
// context is canceled. The port is closed when Run returns.
func (p *Port) Run(ctx context.Context) error {
	loop := NewLoop(LoopLoggerOption(p.logger))
	defer p.Close()

	if err := loop.Add(p); err != nil {
		return err
	}
	return loop.Serve(ctx)
}

// Flush writes queued frames until the queue is empty, waiting for the
// device with poll(2). Inbound data is left unread. It returns
// ErrPortClosed if the port is torn down before the queue drains.
func (p *Port) Flush(ctx context.Context) error {
	if p.Fd() < 0 {
		return errors.Wrapf(ErrInvalidDevice, "%s has no descriptor to poll", p.name)
	}

	timeout := int(defaultPollInterval / time.Millisecond)
	for !p.out.empty() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.closed.Load() {
			return ErrPortClosed
		}

		fds := []unix.PollFd{{Fd: int32(p.Fd()), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Wrap(err, "poll")
		}
		if n == 0 {
			continue
		}
		if p.HandleWritable() == Disconnect {
			return ErrPortClosed
		}
	}

	if p.closed.Load() {
		return ErrPortClosed
	}
	return nil
}

// Close tears the port down. Safe to call multiple times.
func (p *Port) Close() error {
	return p.teardown(nil)
}

// teardown runs the disconnect callback once, drops every buffer and
// closes the device.
func (p *Port) teardown(cause error) error {
	if p.closed.Swap(true) {
		return nil
	}

	if p.opts.onDisconnect != nil {
		p.opts.onDisconnect(p, cause)
	}

	dropped := p.out.len()
	p.out.reset()
	p.in.reset()
	err := p.dev.Close()

	if cause != nil && !errors.Is(cause, io.EOF) {
		p.logger.Info("port closed with error", "device", p.name, "error", cause, "dropped_frames", dropped)
	} else {
		p.logger.Info("port closed", "device", p.name, "dropped_frames", dropped)
	}

	return err
}
