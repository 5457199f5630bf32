// ABOUTME: The serve command
// ABOUTME: Runs a buffer server from a YAML file and flags, optionally with the status monitor
package main

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/ftbuffer/internal/config"
	"github.com/Resonate-Protocol/ftbuffer/internal/log"
	"github.com/Resonate-Protocol/ftbuffer/pkg/ftbuffer"
)

var serveFlags struct {
	configPath string
	host       string
	port       int
	websocket  string
	metrics    string
	natsURL    string
	natsSubj   string
	mdns       bool
	name       string
	maxPayload int
	grace      time.Duration
	tui        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a buffer server.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	d := config.Default()
	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&serveFlags.host, "host", d.Host, "listen host")
	f.IntVarP(&serveFlags.port, "port", "p", d.Port, "listen port")
	f.StringVar(&serveFlags.websocket, "websocket-addr", "", "WebSocket bridge address, e.g. :1973")
	f.StringVar(&serveFlags.metrics, "metrics-addr", "", "metrics and health address, e.g. :9090")
	f.StringVar(&serveFlags.natsURL, "nats-url", "", "relay events to this NATS server")
	f.StringVar(&serveFlags.natsSubj, "nats-subject", d.NATS.Subject, "subject prefix for relayed events")
	f.BoolVar(&serveFlags.mdns, "mdns", false, "advertise the server with mDNS")
	f.StringVar(&serveFlags.name, "name", "", "server name (default: hostname-ftbuffer)")
	f.IntVar(&serveFlags.maxPayload, "max-payload", d.MaxPayload, "largest accepted request in bytes")
	f.DurationVar(&serveFlags.grace, "grace", d.GracePeriod, "how long shutdown lets sessions finish")
	f.BoolVar(&serveFlags.tui, "tui", false, "show the status monitor")
}

// serveConfig merges the file with the flags the user set.
func serveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if serveFlags.configPath != "" {
		var err error
		if cfg, err = config.Load(serveFlags.configPath); err != nil {
			return cfg, err
		}
	}

	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = serveFlags.host
	}
	if f.Changed("port") {
		cfg.Port = serveFlags.port
	}
	if f.Changed("websocket-addr") {
		cfg.WebSocket = serveFlags.websocket
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics = serveFlags.metrics
	}
	if f.Changed("nats-url") {
		cfg.NATS.URL = serveFlags.natsURL
	}
	if f.Changed("nats-subject") {
		cfg.NATS.Subject = serveFlags.natsSubj
	}
	if f.Changed("mdns") {
		cfg.MDNS.Enabled = serveFlags.mdns
	}
	if f.Changed("name") {
		cfg.MDNS.Name = serveFlags.name
	}
	if f.Changed("max-payload") {
		cfg.MaxPayload = serveFlags.maxPayload
	}
	if f.Changed("grace") {
		cfg.GracePeriod = serveFlags.grace
	}
	if cfg.MDNS.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.MDNS.Name = hostname + "-ftbuffer"
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := serveConfig(cmd)
	if err != nil {
		return err
	}
	// Flags on the command line win over the file's log section.
	pf := cmd.Flags()
	if serveFlags.configPath != "" && !pf.Changed("log-level") && !pf.Changed("log-format") {
		if err := log.SetLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
			return err
		}
	}
	if serveFlags.tui {
		log.Discard()
	}

	srv, err := ftbuffer.NewServer(ftbuffer.ConfigFromFile(cfg))
	if err != nil {
		return errors.Wrap(err, "create server failed")
	}
	if err := srv.Start(); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"addr": srv.Addr().String(),
		"name": cfg.MDNS.Name,
	}).Info("press Ctrl-C to stop")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	failed := make(chan error, 1)
	go func() { failed <- srv.Wait() }()

	if serveFlags.tui {
		mon := srv.Monitor()
		go func() {
			if err := mon.Run(ctx); err != nil {
				logger.WithError(err).Warn("status monitor stopped")
			}
			cancel()
		}()
		go func() {
			select {
			case <-mon.QuitChan():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-failed:
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.GracePeriod+time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
