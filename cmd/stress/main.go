// ABOUTME: Stress test for a buffer server
// ABOUTME: One writer appends numbered samples while readers check every range they fetch
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/ftbuffer/internal/log"
	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/ftbuffer"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

var (
	serverAddr = flag.String("server", "", "Server address (default: run an embedded server)")
	readers    = flag.Int("readers", 8, "Concurrent reader connections")
	channels   = flag.Int("channels", 16, "Channels per sample")
	block      = flag.Int("block", 64, "Samples per PUT_DAT")
	duration   = flag.Duration("duration", 10*time.Second, "How long to run")
	logLevel   = flag.String("log-level", "info", "Log level")
)

type result struct {
	writes, reads, samples atomic.Int64
}

func main() {
	flag.Parse()
	if err := log.SetLogger(*logLevel, log.FormatText); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	addr := *serverAddr
	if addr == "" {
		srv, err := ftbuffer.NewServer(ftbuffer.ServerConfig{Addr: "127.0.0.1:0"})
		if err == nil {
			err = srv.Start()
		}
		if err != nil {
			logger.WithError(err).Fatal("start embedded server failed")
		}
		defer srv.Stop(context.Background())
		addr = srv.Addr().String()
	}

	var res result
	start := time.Now()
	err := run(ctx, addr, &res)
	elapsed := time.Since(start)

	fields := logrus.Fields{
		"writes":  res.writes.Load(),
		"reads":   res.reads.Load(),
		"samples": res.samples.Load(),
		"rate":    fmt.Sprintf("%.0f samples/s", float64(res.samples.Load())/elapsed.Seconds()),
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("stress test failed")
		os.Exit(1)
	}
	logger.WithFields(fields).Info("stress test passed")
}

func run(ctx context.Context, addr string, res *result) error {
	w, err := ftbuffer.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer w.Close()
	hdr := protocol.Header{NumChannels: *channels, SampleRate: 1000, DataType: array.Int32}
	if err := w.PutHeader(ctx, hdr); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return write(gctx, w, res) })
	for i := 0; i < *readers; i++ {
		g.Go(func() error { return read(gctx, addr, res) })
	}
	return g.Wait()
}

// write appends blocks whose element i holds the value i of the whole stream.
func write(ctx context.Context, c *ftbuffer.Client, res *result) error {
	next := int32(0)
	for ctx.Err() == nil {
		v := make([]int32, *channels*(*block))
		for i := range v {
			v[i] = next + int32(i)
		}
		blk, err := array.FromSlice(v, *channels, *block)
		if err != nil {
			return err
		}
		if err := c.PutData(ctx, blk); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "write failed")
		}
		next += int32(len(v))
		res.writes.Add(1)
		res.samples.Add(int64(*block))
	}
	return nil
}

// read waits for new samples and checks the newest range it is told about.
func read(ctx context.Context, addr string, res *result) error {
	c, err := ftbuffer.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()

	seen := 0
	for ctx.Err() == nil {
		counts, err := c.WaitData(ctx, protocol.WaitRequest{Samples: seen + 1, Timeout: 500 * time.Millisecond})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "wait failed")
		}
		if counts.Samples <= seen {
			continue
		}
		blk, err := c.GetData(ctx, seen, counts.Samples)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrapf(err, "read [%d,%d) failed", seen, counts.Samples)
		}
		v, err := array.ToSlice[int32](blk)
		if err != nil {
			return err
		}
		base := int32(seen * *channels)
		for i, x := range v {
			if x != base+int32(i) {
				return errors.Errorf("torn read: element %d of [%d,%d) is %d, want %d",
					i, seen, counts.Samples, x, base+int32(i))
			}
		}
		seen = counts.Samples
		res.reads.Add(1)
	}
	return nil
}
