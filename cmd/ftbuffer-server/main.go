// ABOUTME: Standalone buffer server
// ABOUTME: Usage: ftbuffer-server [host] [port]; exits 0 on shutdown, 1 on bind failure, 2 on bad arguments
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/ftbuffer/internal/config"
	"github.com/Resonate-Protocol/ftbuffer/internal/log"
	"github.com/Resonate-Protocol/ftbuffer/internal/version"
	"github.com/Resonate-Protocol/ftbuffer/pkg/ftbuffer"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Exit codes.
const (
	exitOK       = 0
	exitBind     = 1
	exitBadUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// parseArgs reads the optional host and port arguments. Port 0 picks a free port.
func parseArgs(args []string) (string, error) {
	host, port := config.DefaultHost, config.DefaultPort
	if len(args) > 2 {
		return "", errors.New("too many arguments")
	}
	if len(args) >= 1 {
		host = args[0]
	}
	if len(args) == 2 {
		p, err := strconv.Atoi(args[1])
		if err != nil || p < 0 || p > 65535 {
			return "", errors.Errorf("invalid port %q", args[1])
		}
		port = p
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("ftbuffer-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	level := fs.String("log-level", "info", "log level")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: ftbuffer-server [flags] [host] [port]\n")
		fmt.Fprintf(stderr, "defaults: host %s, port %d\n", config.DefaultHost, config.DefaultPort)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitBadUsage
	}
	addr, err := parseArgs(fs.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return exitBadUsage
	}
	if err := log.SetLogger(*level, log.FormatText); err != nil {
		fmt.Fprintln(stderr, err)
		return exitBadUsage
	}

	srv, err := ftbuffer.NewServer(ftbuffer.ServerConfig{Addr: addr})
	if err != nil {
		logger.WithError(err).Error("create server failed")
		return exitBind
	}
	if err := srv.Start(); err != nil {
		logger.WithError(err).Error("bind failed")
		return exitBind
	}
	logger.WithFields(logrus.Fields{
		"addr":    srv.Addr().String(),
		"version": version.Version,
	}).Info("buffer server running, press Ctrl-C to stop")

	failed := make(chan error, 1)
	go func() { failed <- srv.Wait() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-failed:
	}
	if err := srv.Stop(context.Background()); err != nil && serveErr == nil {
		serveErr = err
	}
	if serveErr != nil {
		logger.WithError(serveErr).Error("server failed")
		return exitBind
	}
	return exitOK
}
