package vdport

// Action tells the caller whether a Port is still usable.
type Action int

const (
	// Continue keeps the port open.
	Continue Action = iota
	// Disconnect tears the port down. Returned from OnMessage it requests
	// teardown; returned from a handler it reports that teardown happened
	// and the caller must drop its reference.
	Disconnect
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// options holds the configuration for a port.
type options struct {
	logger Logger

	onMessage func(p *Port, msg Message) Action
	// onDisconnect is called exactly once during teardown, before buffers
	// are released and the device is closed.
	onDisconnect func(p *Port, cause error)

	maxQueueDepth  int // pending frames allowed in the send queue, 0 for unbounded
	maxMessageSize int // largest payload accepted in either direction
	userData       any
}

// Option is a function that configures port options.
type Option func(*options)

// OnMessageOption sets the handler invoked for each reassembled message.
// It is required. Returning Disconnect tears the port down immediately.
func OnMessageOption(cb func(*Port, Message) Action) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// OnDisconnectOption sets the callback invoked once when the port is torn
// down. cause is nil for an explicit Close, io.EOF when the peer went
// away, and the I/O or protocol error otherwise.
func OnDisconnectOption(cb func(*Port, error)) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}

// MaxQueueDepthOption bounds the number of frames waiting to be written.
// Send returns ErrBufferFull once the bound is reached. Zero, the
// default, leaves the queue unbounded and growth is the caller's concern.
func MaxQueueDepthOption(depth int) Option {
	return func(o *options) {
		o.maxQueueDepth = depth
	}
}

// MessageMaxSize sets the largest payload the port will receive or send.
// An inbound frame declaring more tears the port down; an outbound one
// fails Send with ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// UserDataOption attaches caller data to the port, see Port.UserData.
func UserDataOption(data any) Option {
	return func(o *options) {
		o.userData = data
	}
}

// LoggerOption sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
