package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fako1024/decentscale/pkg/api"
	"github.com/fako1024/decentscale/pkg/config"
	"github.com/fako1024/decentscale/pkg/decent"
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.New()

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {

	// Parse command line options
	var (
		configPath string
		flags      config.Config
	)

	flag.StringVar(&configPath, "config", "", "path to YAML configuration file")
	flag.StringVar(&flags.Transport, "transport", config.TransportBLE, "transport to use (ble, usb, wifi)")
	flag.StringVar(&flags.Address, "addr", "", "address of the scale (skips discovery: peripheral ID, serial port or host)")
	flag.BoolVar(&flags.Heartbeat, "heartbeat", false, "send heartbeats (required by the Half Decent Scale)")
	flag.StringVar(&flags.API.Listen, "api", "", "listen address of the REST API (disabled if empty)")
	flag.BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(configPath, &flags)
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	registry := prometheus.NewRegistry()
	decent.RegisterMetrics(registry)

	s, err := cfg.Build(log)
	if err != nil {
		return fmt.Errorf("failed to initialize scale: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warnf("failed to close connection to scale: %s", err)
		}
	}()

	stateChan := make(chan scale.ConnectionStatus, 16)
	s.SetStateChangeChannel(stateChan)

	s.AddWeightCallback(func(data scale.DataPoint) {
		if data.Elapsed != nil {
			log.Infof("%.1f %s (%s)", data.Weight, data.Unit, data.Elapsed)
			return
		}
		log.Infof("%.1f %s", data.Weight, data.Unit)
	})

	if err := connect(s, cfg.MaxRetries); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	// Reconnect if the connection is lost
	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case st := <-stateChan:
				log.Debugf("state change: %s (heartbeat: %v)", st.State, st.HeartbeatActive)
				if !connectionLost(st) {
					continue
				}

				log.Warnf("lost connection to scale (%s), reconnecting", st.Error)
				if err := connect(s, cfg.MaxRetries); err != nil {
					return err
				}
			}
		}
	})

	if cfg.API.Listen != "" {
		restAPI := api.New(s, registry)
		eg.Go(func() error {
			log.Infof("serving REST API on `%s`", cfg.API.Listen)
			return restAPI.Listen(cfg.API.Listen)
		})
		eg.Go(func() error {
			<-ctx.Done()
			return restAPI.Shutdown()
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infof("terminating connection to scale")

	return nil
}

func connect(s *decent.Scale, maxRetries int) error {
	if !s.AutoConnect(maxRetries) {
		if err := s.ConnectionStatus().Error; err != nil {
			return fmt.Errorf("failed to connect to scale: %w", err)
		}
		return decent.ErrConnectFailure
	}
	if err := s.EnableNotifications(); err != nil {
		return fmt.Errorf("failed to enable notifications: %w", err)
	}

	log.Infof("connected to scale (battery: %s, firmware: %s)", s.BatteryLevel(), s.FirmwareVersion())

	return nil
}

// connectionLost determines if a state change denotes the loss of an
// established connection (as opposed to e.g. a failed connection attempt)
func connectionLost(st scale.ConnectionStatus) bool {
	return st.State == scale.StateDisconnected && errors.Is(st.Error, decent.ErrConnectionLost)
}

// loadConfig reads the configuration file (if any) and applies all explicitly
// set command line flags on top
func loadConfig(path string, flags *config.Config) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.Transport = flags.Transport
		case "addr":
			cfg.Address = flags.Address
		case "heartbeat":
			cfg.Heartbeat = flags.Heartbeat
		case "api":
			cfg.API.Listen = flags.API.Listen
		case "debug":
			cfg.Debug = flags.Debug
		}
	})

	return cfg, cfg.Validate()
}
