package vdport

import (
	"context"
	"io"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// portPair connects two ports over a socketpair.
func portPair(t *testing.T, onA, onB func(*Port, Message) Action) (*Port, *Port) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}

	newPort := func(fd int, name string, on func(*Port, Message) Action) *Port {
		if on == nil {
			on = func(*Port, Message) Action { return Continue }
		}
		dev, err := NewFdDevice(fd, name)
		if err != nil {
			t.Fatalf("NewFdDevice failed: %v", err)
		}
		p, err := NewPort(dev, OnMessageOption(on), LoggerOption(&mockLogger{}))
		if err != nil {
			t.Fatalf("NewPort failed: %v", err)
		}
		t.Cleanup(func() { p.Close() })
		return p
	}

	return newPort(fds[0], "a", onA), newPort(fds[1], "b", onB)
}

func TestNewLoop(t *testing.T) {
	loop := NewLoop(LoopPollIntervalOption(-1))

	if loop.pollInterval != defaultPollInterval {
		t.Errorf("pollInterval = %v, want %v", loop.pollInterval, defaultPollInterval)
	}
	if loop.Len() != 0 {
		t.Errorf("Len = %d, want 0", loop.Len())
	}
}

func TestLoop_Add_Unpollable(t *testing.T) {
	p := newTestPort(t, &scriptedDevice{}, &recorder{})

	if err := NewLoop().Add(p); err == nil {
		t.Error("expected error adding a port without descriptor")
	}
}

func TestLoop_Add_Closed(t *testing.T) {
	a, b := portPair(t, nil, nil)
	loop := NewLoop(LoopLoggerOption(&mockLogger{}))

	a.Close()
	if err := loop.Add(a); err != ErrPortClosed {
		t.Errorf("expected ErrPortClosed, got %v", err)
	}

	loop.Close()
	if err := loop.Add(b); err != ErrLoopClosed {
		t.Errorf("expected ErrLoopClosed, got %v", err)
	}
}

func TestLoop_Serve_Exchange(t *testing.T) {
	const rounds = 5
	replies := make(chan Message, rounds)

	// a counts replies, b answers every message with the same type and opaque.
	a, b := portPair(t,
		func(p *Port, msg Message) Action {
			replies <- msg
			return Continue
		},
		func(p *Port, msg Message) Action {
			reply := NewMessage(TypeReply, msg.Header.Opaque, msg.Payload)
			if err := p.SendMessage(reply); err != nil {
				return Disconnect
			}
			return Continue
		},
	)

	loop := NewLoop(LoopLoggerOption(&mockLogger{}), LoopPollIntervalOption(10*time.Millisecond))
	if err := loop.Add(a); err != nil {
		t.Fatalf("Add a failed: %v", err)
	}
	if err := loop.Add(b); err != nil {
		t.Fatalf("Add b failed: %v", err)
	}
	if loop.Len() != 2 {
		t.Errorf("Len = %d, want 2", loop.Len())
	}

	for i := 0; i < rounds; i++ {
		if err := a.SendMessage(NewMessage(TypeClipboard, uint64(i), []byte{byte(i)})); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- loop.Serve(ctx)
	}()

	for i := 0; i < rounds; i++ {
		select {
		case msg := <-replies:
			if msg.Header.Opaque != uint64(i) {
				t.Errorf("reply %d opaque = %d, out of order", i, msg.Header.Opaque)
			}
			if msg.Header.Type != TypeReply {
				t.Errorf("reply %d type = %d, want %d", i, msg.Header.Type, TypeReply)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for reply %d", i)
		}
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestLoop_Serve_DropsDisconnectedPorts(t *testing.T) {
	causes := make(chan error, 2)
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair failed: %v", err)
	}

	dev, err := NewFdDevice(fds[0], "port")
	if err != nil {
		t.Fatalf("NewFdDevice failed: %v", err)
	}
	p, err := NewPort(dev,
		OnMessageOption(func(*Port, Message) Action { return Continue }),
		OnDisconnectOption(func(_ *Port, cause error) { causes <- cause }),
		LoggerOption(&mockLogger{}),
	)
	if err != nil {
		t.Fatalf("NewPort failed: %v", err)
	}

	loop := NewLoop(LoopLoggerOption(&mockLogger{}), LoopPollIntervalOption(10*time.Millisecond))
	if err := loop.Add(p); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	unix.Close(fds[1])

	done := make(chan error, 1)
	go func() {
		done <- loop.Serve(context.Background())
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil once every port is gone", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}

	if loop.Len() != 0 {
		t.Errorf("Len = %d, want 0", loop.Len())
	}
	if cause := <-causes; cause != io.EOF {
		t.Errorf("cause = %v, want io.EOF", cause)
	}
}

func TestLoop_Close(t *testing.T) {
	a, _ := portPair(t, func(*Port, Message) Action { return Continue }, nil)

	loop := NewLoop(LoopLoggerOption(&mockLogger{}), LoopPollIntervalOption(10*time.Millisecond))
	if err := loop.Add(a); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- loop.Serve(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	if err := loop.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after Close", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}

	if a.IsClosed() {
		t.Error("Close must leave registered ports open")
	}
}
