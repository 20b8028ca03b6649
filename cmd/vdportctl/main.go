// Vdportctl talks to a spice agent channel from the command line.
//
// It opens the virtio-serial port, reassembles agent messages and can dump,
// echo, record or replay them, or send a single message.
//
// Usage:
//
//	vdportctl [command] [flags]
//
// See 'vdportctl --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Zereker/vdport/internal/config"
	"github.com/Zereker/vdport/internal/logging"
	"github.com/Zereker/vdport/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath     string
	devicePath     string
	logLevel       string
	maxQueueDepth  int
	maxMessageSize int
	reconnect      bool
)

// Resolved in PersistentPreRunE.
var (
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vdportctl",
	Short: "Spice agent channel tool",
	Long: `A tool for the spice agent virtio-serial channel.

Messages are framed as a chunk header, a message header and a payload.
vdportctl reassembles them without blocking and can print, answer,
capture or replay them.`,
	Version:           version.Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Config file (.toml, .yaml or .yml)")
	flags.StringVarP(&devicePath, "device", "s", config.DefaultDevice, "Agent channel device path")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $"+logging.LogLevelEnvVar)
	flags.IntVar(&maxQueueDepth, "max-queue-depth", 0, "Maximum frames waiting to be written (0 = unbounded)")
	flags.IntVar(&maxMessageSize, "max-message-size", 0, "Maximum payload size in bytes (0 = config default)")
	flags.BoolVar(&reconnect, "reconnect", false, "Reopen the device after a disconnect")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup merges the config file and flags and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	var err error

	cfg = config.Default()
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device = devicePath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("max-queue-depth") {
		cfg.MaxQueueDepth = maxQueueDepth
	}
	if flags.Changed("max-message-size") {
		cfg.MaxMessageSize = maxMessageSize
	}
	if flags.Changed("reconnect") {
		cfg.Reconnect = reconnect
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err = logging.New(cfg.LogLevel)
	return err
}
