package vdport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrLoopClosed is returned when adding a port to a closed loop.
var ErrLoopClosed = errors.New("loop closed")

// defaultPollInterval bounds how long Serve sleeps in poll(2) before it
// checks for cancellation.
const defaultPollInterval = 100 * time.Millisecond

// Loop waits for readiness on a set of ports and dispatches their handlers.
// Ports that disconnect are dropped from the set.
type Loop struct {
	logger       Logger
	pollInterval time.Duration

	mu       sync.Mutex
	ports    []*Port
	shutdown bool
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// LoopLoggerOption sets the logger for the loop.
func LoopLoggerOption(logger Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// LoopPollIntervalOption sets the poll(2) timeout. A shorter interval makes
// Serve notice cancellation and Close sooner.
func LoopPollIntervalOption(interval time.Duration) LoopOption {
	return func(l *Loop) {
		l.pollInterval = interval
	}
}

// NewLoop creates an empty loop.
func NewLoop(opts ...LoopOption) *Loop {
	l := &Loop{
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.pollInterval <= 0 {
		l.pollInterval = defaultPollInterval
	}

	return l
}

// Add registers a port. The port must have a pollable descriptor.
func (l *Loop) Add(p *Port) error {
	if p.IsClosed() {
		return ErrPortClosed
	}
	if p.Fd() < 0 {
		return errors.Wrapf(ErrInvalidDevice, "%s has no descriptor to poll", p.Name())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.shutdown {
		return ErrLoopClosed
	}
	l.ports = append(l.ports, p)
	return nil
}

// Len returns the number of registered ports.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ports)
}

// Serve dispatches readiness until the context is canceled, Close is
// called, or no ports remain. It returns ctx.Err() on cancellation, nil
// after Close or once every port has disconnected, and the poll error if
// waiting fails.
func (l *Loop) Serve(ctx context.Context) error {
	l.logger.Debug("loop started", "ports", l.Len())

	timeout := int(l.pollInterval / time.Millisecond)
	var fds []unix.PollFd

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Debug("loop stopped", "reason", err)
			return err
		}

		ports, stop := l.snapshot()
		if stop {
			l.logger.Debug("loop stopped", "reason", "closed")
			return nil
		}
		if len(ports) == 0 {
			l.logger.Debug("loop stopped", "reason", "no ports left")
			return nil
		}

		fds = fds[:0]
		for _, p := range ports {
			events := int16(unix.POLLIN)
			if p.WantsWrite() {
				events |= unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(p.Fd()), Events: events})
		}

		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			l.logger.Error("poll error", "error", err)
			return errors.Wrap(err, "poll")
		}
		if n == 0 {
			continue
		}

		for i, p := range ports {
			revents := fds[i].Revents
			readable := revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
			writable := revents&unix.POLLOUT != 0
			if !readable && !writable {
				continue
			}
			if p.HandleEvents(readable, writable) == Disconnect {
				l.remove(p)
			}
		}
	}
}

// snapshot returns the open ports, dropping any closed behind the loop's back.
func (l *Loop) snapshot() ([]*Port, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	open := l.ports[:0]
	for _, p := range l.ports {
		if !p.IsClosed() {
			open = append(open, p)
		}
	}
	l.ports = open

	ports := make([]*Port, len(open))
	copy(ports, open)
	return ports, l.shutdown
}

func (l *Loop) remove(p *Port) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, q := range l.ports {
		if q == p {
			l.ports = append(l.ports[:i], l.ports[i+1:]...)
			return
		}
	}
}

// Close stops Serve within one poll interval. Registered ports stay open;
// their owner closes them.
func (l *Loop) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.shutdown = true
	return nil
}
