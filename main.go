// ABOUTME: Entry point for the ftbuffer command-line tool
// ABOUTME: Serves a buffer, produces demo data and inspects a running server
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/ftbuffer/internal/config"
	"github.com/Resonate-Protocol/ftbuffer/internal/log"
	"github.com/Resonate-Protocol/ftbuffer/internal/version"
	"github.com/Resonate-Protocol/ftbuffer/pkg/ftbuffer"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Flags shared by every command.
var (
	logLevel  string
	logFormat string
	addr      string
	useWS     bool
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "ftbuffer",
	Short:         "Realtime buffer for streaming samples and events.",
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return log.SetLogger(logLevel, logFormat)
	},
}

// connect dials the server named by --addr.
func connect(ctx context.Context) (*ftbuffer.Client, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if useWS {
		return ftbuffer.DialWebSocket(dctx, addr)
	}
	return ftbuffer.Dial(dctx, addr)
}

// requestContext bounds one request by --timeout.
func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func init() {
	defaults := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	pf.StringVarP(&addr, "addr", "a", defaults.Addr(), "server address for client commands")
	pf.BoolVar(&useWS, "websocket", false, "connect through the WebSocket bridge at --addr")
	pf.DurationVar(&timeout, "timeout", 5*time.Second, "connect and request timeout")

	rootCmd.AddCommand(
		serveCmd,
		sineCmd,
		streamFileCmd,
		eventCmd,
		headerCmd,
		getCmd,
		watchCmd,
		flushCmd,
		discoverCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error(errors.Wrap(err, "execute command failed"))
		stop()
		os.Exit(1)
	}
}
