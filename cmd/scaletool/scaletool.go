package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fako1024/decentscale/pkg/config"
	"github.com/fako1024/decentscale/pkg/decent"
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/spf13/cobra"
)

var (
	s *decent.Scale

	configPath string
	flags      config.Config
	ledUnit    string
	infoWait   time.Duration
)

// rootCmd connects to the scale before and disconnects after each subcommand
var rootCmd = &cobra.Command{
	Use:   "scaletool",
	Short: "Control a Decent Scale",
	Long: `Connects to a Decent Scale (via Bluetooth, USB or Wi-Fi), executes a single
command and disconnects again.`,
	SilenceUsage:       true,
	SilenceErrors:      true,
	PersistentPreRunE:  connect,
	PersistentPostRunE: disconnect,
}

var tareCmd = &cobra.Command{
	Use:   "tare",
	Short: "Tare the scale",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		return s.Tare()
	},
}

var ledOnCmd = &cobra.Command{
	Use:   "led-on",
	Short: "Turn on the display",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		unit, err := scale.ParseUnit(ledUnit)
		if err != nil {
			return err
		}
		return s.LEDOn(unit)
	},
}

var ledOffCmd = &cobra.Command{
	Use:   "led-off",
	Short: "Turn off the display",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		return s.LEDOff()
	},
}

var powerOffCmd = &cobra.Command{
	Use:   "power-off",
	Short: "Turn off the scale (requires firmware v1.2 or newer)",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		return s.PowerOff()
	},
}

var timerCmd = &cobra.Command{
	Use:       "timer {start|stop|reset}",
	Short:     "Control the timer",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"start", "stop", "reset"},
	RunE: func(_ *cobra.Command, args []string) error {
		switch args[0] {
		case "start":
			return s.StartTimer()
		case "stop":
			return s.StopTimer()
		default:
			return s.ResetTimer()
		}
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show status information reported by the scale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := s.EnableNotifications(); err != nil {
			return err
		}

		// Give the scale some time to report its status / weight
		time.Sleep(infoWait)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "State:    %s\n", s.ConnectionStatus().State)
		fmt.Fprintf(out, "Battery:  %s\n", s.BatteryLevel())
		fmt.Fprintf(out, "Firmware: %s\n", valueOrUnknown(s.FirmwareVersion()))
		fmt.Fprintf(out, "Unit:     %s\n", s.Unit())
		if data, ok := s.Weight(); ok {
			fmt.Fprintf(out, "Weight:   %.1f %s\n", data.Weight, data.Unit)
		} else {
			fmt.Fprintf(out, "Weight:   %s\n", valueOrUnknown(""))
		}

		return s.DisableNotifications()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.Transport, "transport", config.TransportBLE, "transport to use (ble, usb, wifi)")
	rootCmd.PersistentFlags().StringVar(&flags.Address, "addr", "", "address of the scale (skips discovery)")
	rootCmd.PersistentFlags().BoolVar(&flags.Heartbeat, "heartbeat", false, "send heartbeats (required by the Half Decent Scale)")
	rootCmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "enable debug logging")

	ledOnCmd.Flags().StringVar(&ledUnit, "unit", string(scale.UnitGrams), "unit to display (g, oz)")
	infoCmd.Flags().DurationVar(&infoWait, "wait", 2*time.Second, "time to wait for status information")

	rootCmd.AddCommand(tareCmd, ledOnCmd, ledOffCmd, powerOffCmd, timerCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func connect(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := scale.NewConsoleLogger(cfg.Debug)
	if err != nil {
		return err
	}

	if s, err = cfg.Build(logger); err != nil {
		return fmt.Errorf("failed to initialize scale: %w", err)
	}
	if !s.AutoConnect(cfg.MaxRetries) {
		if err := s.ConnectionStatus().Error; err != nil {
			return fmt.Errorf("failed to connect to scale: %w", err)
		}
		return decent.ErrConnectFailure
	}

	return nil
}

func disconnect(*cobra.Command, []string) error {
	if s == nil {
		return nil
	}
	return s.Close()
}

// applyFlags overrides configuration values with explicitly set flags
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	fs := cmd.Flags()
	if fs.Changed("transport") {
		cfg.Transport = flags.Transport
	}
	if fs.Changed("addr") {
		cfg.Address = flags.Address
	}
	if fs.Changed("heartbeat") {
		cfg.Heartbeat = flags.Heartbeat
	}
	if fs.Changed("debug") {
		cfg.Debug = flags.Debug
	}
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
