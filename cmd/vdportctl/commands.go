package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/vdport"
	"github.com/Zereker/vdport/internal/capture"
	"github.com/Zereker/vdport/internal/logging"
	"github.com/Zereker/vdport/internal/version"
)

// reconnectDelay is the pause before reopening a disconnected device.
const reconnectDelay = time.Second

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every received message",
	Long: `Print one line per received message with its headers and a hex dump
of the first 256 payload bytes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		return serve(cmd.Context(), func(p *vdport.Port, msg vdport.Message) vdport.Action {
			fmt.Fprintf(out, "%s port=%d protocol=%d opaque=%d size=%d %s\n",
				vdport.TypeName(msg.Header.Type), msg.Chunk.Port, msg.Header.Protocol,
				msg.Header.Opaque, msg.Header.Size, logging.HexDump(msg.Payload))
			logger.Debug("message", logging.MessageFields(msg)...)
			return vdport.Continue
		})
	},
}

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Send every received message back",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), echo)
	},
}

// echo queues a copy of msg with the same type and opaque value.
func echo(p *vdport.Port, msg vdport.Message) vdport.Action {
	reply := vdport.NewMessage(msg.Header.Type, msg.Header.Opaque, msg.Payload)
	if err := p.SendMessage(reply); err != nil {
		logger.Warn("cannot queue reply", zap.Error(err))
		if errors.Is(err, vdport.ErrBufferFull) {
			return vdport.Continue
		}
		return vdport.Disconnect
	}
	return vdport.Continue
}

var (
	sendType   uint32
	sendOpaque uint64
	sendData   string
	sendFile   string
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message and exit",
	Long: `Send one message built from flags. The payload is taken from --data or
read from --file; without either the message is empty.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := []byte(sendData)
		if sendFile != "" {
			var err error
			payload, err = os.ReadFile(sendFile)
			if err != nil {
				return errors.Wrap(err, "read payload")
			}
		}

		p, err := openPort(discard)
		if err != nil {
			return err
		}
		defer p.Close()

		if err := p.SendMessage(vdport.NewMessage(sendType, sendOpaque, payload)); err != nil {
			return err
		}
		if err := p.Flush(cmd.Context()); err != nil {
			return errors.Wrap(err, "flush")
		}

		logger.Info("message sent",
			zap.String("type", vdport.TypeName(sendType)),
			zap.Int("size", len(payload)))
		return nil
	},
}

func init() {
	sendCmd.Flags().Uint32VarP(&sendType, "type", "t", vdport.TypeReply, "Message type")
	sendCmd.Flags().Uint64Var(&sendOpaque, "opaque", 0, "Opaque value")
	sendCmd.Flags().StringVarP(&sendData, "data", "d", "", "Payload text")
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "Payload file")
	sendCmd.MarkFlagsMutuallyExclusive("data", "file")
}

var recordOutput string

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append received messages to a capture file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.OpenFile(recordOutput, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrap(err, "open capture file")
		}
		defer f.Close()

		records := make(chan capture.Record, 64)
		g, ctx := errgroup.WithContext(cmd.Context())

		g.Go(func() error {
			defer close(records)
			return serve(ctx, func(p *vdport.Port, msg vdport.Message) vdport.Action {
				select {
				case records <- capture.FromMessage(msg, time.Now()):
					return vdport.Continue
				case <-ctx.Done():
					return vdport.Disconnect
				}
			})
		})

		w := capture.NewWriter(f)
		g.Go(func() error {
			for r := range records {
				if err := w.Write(r); err != nil {
					return err
				}
			}
			return nil
		})

		err = g.Wait()
		logger.Info("capture finished", zap.String("file", recordOutput), zap.Int("records", w.Count()))
		return err
	},
}

func init() {
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "Capture file")
	_ = recordCmd.MarkFlagRequired("output")
}

var replayInput string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send every message of a capture file in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(replayInput)
		if err != nil {
			return errors.Wrap(err, "open capture file")
		}
		defer f.Close()

		p, err := openPort(discard)
		if err != nil {
			return err
		}
		defer p.Close()

		n, err := replay(cmd.Context(), p, capture.NewReader(f))
		logger.Info("replay finished", zap.String("file", replayInput), zap.Int("messages", n))
		return err
	},
}

func init() {
	replayCmd.Flags().StringVarP(&replayInput, "input", "i", "", "Capture file")
	_ = replayCmd.MarkFlagRequired("input")
}

// replay queues every record of r on p, flushing whenever the queue is
// full, and drains the queue at the end.
func replay(ctx context.Context, p *vdport.Port, r *capture.Reader) (int, error) {
	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}

		msg := rec.Message()
		err = p.SendMessage(msg)
		if errors.Is(err, vdport.ErrBufferFull) {
			if err = p.Flush(ctx); err != nil {
				return n, errors.Wrap(err, "flush")
			}
			err = p.SendMessage(msg)
		}
		if err != nil {
			return n, errors.Wrapf(err, "record %d", n)
		}
		n++
	}

	if err := p.Flush(ctx); err != nil {
		return n, errors.Wrap(err, "flush")
	}
	return n, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vdportctl %s\n", version.Version)
	},
}

// discard ignores inbound messages on ports that only send.
func discard(*vdport.Port, vdport.Message) vdport.Action {
	return vdport.Continue
}

// openPort opens the configured device.
func openPort(onMessage func(*vdport.Port, vdport.Message) vdport.Action) (*vdport.Port, error) {
	opts := append(cfg.PortOptions(),
		vdport.OnMessageOption(onMessage),
		vdport.OnDisconnectOption(func(p *vdport.Port, cause error) {
			if cause != nil {
				logger.Info("disconnected", zap.String("device", p.Name()), zap.Error(cause))
			}
		}),
		vdport.LoggerOption(logging.Adapt(logger)),
	)
	return vdport.Open(cfg.Device, opts...)
}

// serve runs a port until ctx is done. With reconnect enabled, a port that
// fails to open or disconnects is reopened after reconnectDelay.
func serve(ctx context.Context, onMessage func(*vdport.Port, vdport.Message) vdport.Action) error {
	for {
		err := serveOnce(ctx, onMessage)
		if ctx.Err() != nil {
			return nil
		}
		if !cfg.Reconnect {
			return err
		}

		logger.Info("reconnecting", zap.String("device", cfg.Device),
			zap.Duration("delay", reconnectDelay), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func serveOnce(ctx context.Context, onMessage func(*vdport.Port, vdport.Message) vdport.Action) error {
	p, err := openPort(onMessage)
	if err != nil {
		return err
	}
	defer p.Close()

	loop := vdport.NewLoop(append(cfg.LoopOptions(), vdport.LoopLoggerOption(logging.Adapt(logger)))...)
	if err := loop.Add(p); err != nil {
		return err
	}
	return loop.Serve(ctx)
}
