package vdport

import "log/slog"

// Logger receives the port's diagnostics as a message plus key/value pairs.
// *slog.Logger satisfies it; ports use slog.Default() unless LoggerOption
// says otherwise.
//
// Frame headers are logged at debug level, lifecycle events at info,
// spurious notifications at warn and protocol or I/O failures at error.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default()
}

// logHeader writes one debug line describing a frame's headers. The
// payload itself is never logged here.
func logHeader(logger Logger, device, event string, chunk ChunkHeader, header MessageHeader) {
	logger.Debug(event,
		"device", device,
		"type", TypeName(header.Type),
		"port", chunk.Port,
		"protocol", header.Protocol,
		"opaque", header.Opaque,
		"size", header.Size)
}
