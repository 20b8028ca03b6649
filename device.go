package vdport

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Device is the byte channel a Port drives. Read and Write must not block:
// when no progress is possible they return unix.EAGAIN (or unix.EINTR).
// Read returns io.EOF once the peer has gone away. Fd returns the
// descriptor the Loop polls, or -1 for devices that cannot be polled.
type Device interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	Fd() int
}

// fdDevice is a Device backed by a non-blocking file descriptor.
type fdDevice struct {
	fd   int
	name string
}

// openDevice opens a channel node for non-blocking read-write access.
func openDevice(path string) (*fdDevice, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	return &fdDevice{fd: fd, name: path}, nil
}

// NewFdDevice wraps an open descriptor, such as one end of a socketpair,
// and switches it to non-blocking mode. The device takes ownership of fd.
func NewFdDevice(fd int, name string) (Device, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Wrapf(err, "set non-blocking on %s", name)
	}
	return &fdDevice{fd: fd, name: name}, nil
}

func (d *fdDevice) Read(p []byte) (int, error) {
	n, err := unix.Read(d.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (d *fdDevice) Write(p []byte) (int, error) {
	n, err := unix.Write(d.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (d *fdDevice) Close() error {
	return unix.Close(d.fd)
}

func (d *fdDevice) Fd() int {
	return d.fd
}

func (d *fdDevice) String() string {
	return d.name
}

// isTemporary reports whether an I/O error only means "try again later".
func isTemporary(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}
