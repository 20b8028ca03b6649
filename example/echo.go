package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Zereker/vdport"
)

// Server echoes every message back on the channel it arrived on.
type Server struct {
	loop *vdport.Loop

	sync.RWMutex
	ports map[string]*vdport.Port
}

func newServer() *Server {
	return &Server{loop: vdport.NewLoop(), ports: make(map[string]*vdport.Port)}
}

func (s *Server) Open(path string) error {
	onMessageOption := vdport.OnMessageOption(func(p *vdport.Port, m vdport.Message) vdport.Action {
		slog.Info("message", "device", p.Name(), "type", vdport.TypeName(m.Header.Type), "size", m.Header.Size)

		// Echo
		if err := p.SendMessage(vdport.NewMessage(m.Header.Type, m.Header.Opaque, m.Payload)); err != nil {
			slog.Error("echo failed", "device", p.Name(), "error", err)
			return vdport.Disconnect
		}
		return vdport.Continue
	})
	onDisconnectOption := vdport.OnDisconnectOption(func(p *vdport.Port, err error) {
		slog.Info("channel closed", "device", p.Name(), "cause", err)
		s.deletePort(p.Name())
	})

	port, err := vdport.Open(path, onMessageOption, onDisconnectOption)
	if err != nil {
		return err
	}

	if err = s.loop.Add(port); err != nil {
		port.Close()
		return err
	}
	s.addPort(port)
	return nil
}

func (s *Server) addPort(p *vdport.Port) {
	s.Lock()
	defer s.Unlock()

	slog.Info("add new port", "device", p.Name())
	s.ports[p.Name()] = p
}

func (s *Server) deletePort(name string) {
	s.Lock()
	defer s.Unlock()

	delete(s.ports, name)
}

func (s *Server) Close() {
	s.Lock()
	ports := make([]*vdport.Port, 0, len(s.ports))
	for _, p := range s.ports {
		ports = append(ports, p)
	}
	s.Unlock()

	for _, p := range ports {
		p.Close()
	}
}

func main() {
	devices := os.Args[1:]
	if len(devices) == 0 {
		devices = []string{"/dev/virtio-ports/com.redhat.spice.0"}
	}

	server := newServer()
	for _, path := range devices {
		if err := server.Open(path); err != nil {
			slog.Error("failed to open channel", "device", path, "error", err)
			server.Close()
			os.Exit(1)
		}
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	slog.Info("echo start", "devices", devices)
	if err := server.loop.Serve(ctx); err != nil && err != context.Canceled {
		slog.Error("loop error", "error", err)
	}
	server.Close()
}
