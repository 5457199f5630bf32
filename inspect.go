// ABOUTME: Client commands for inspecting and editing a running server
// ABOUTME: header, get, watch, event and flush map to single protocol requests
package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/ftbuffer"
	"github.com/Resonate-Protocol/ftbuffer/pkg/protocol"
)

// withClient runs fn against a fresh connection bounded by --timeout.
func withClient(cmd *cobra.Command, fn func(context.Context, *ftbuffer.Client) error) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := requestContext(cmd.Context())
	defer cancel()
	return fn(ctx, c)
}

var headerCmd = &cobra.Command{
	Use:   "header",
	Short: "Print the server's header and counts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *ftbuffer.Client) error {
			h, err := c.GetHeader(ctx)
			if err != nil {
				return err
			}
			printHeader(cmd.OutOrStdout(), h)
			return nil
		})
	},
}

func printHeader(out io.Writer, h protocol.Header) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "channels:\t%d\n", h.NumChannels)
	fmt.Fprintf(w, "sample rate:\t%g Hz\n", h.SampleRate)
	fmt.Fprintf(w, "data type:\t%s\n", h.DataType)
	fmt.Fprintf(w, "samples:\t%d\n", h.NumSamples)
	fmt.Fprintf(w, "events:\t%d\n", h.NumEvents)
	if names := h.ChannelNames(); len(names) > 0 {
		fmt.Fprintf(w, "labels:\t%s\n", strings.Join(names, ", "))
	}
	w.Flush()
}

var getFlags struct {
	begin, end int
	events     bool
	limit      int
}

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print samples or events in [begin, end).",
	Long:  "Print samples or events in [begin, end). Without --end everything from --begin is printed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withClient(cmd, func(ctx context.Context, c *ftbuffer.Client) error {
			end := getFlags.end
			if end < 0 {
				h, err := c.GetHeader(ctx)
				if err != nil {
					return err
				}
				end = h.NumSamples
				if getFlags.events {
					end = h.NumEvents
				}
			}
			if getFlags.events {
				events, err := c.GetEvents(ctx, getFlags.begin, end)
				if err != nil {
					return err
				}
				printEvents(cmd.OutOrStdout(), getFlags.begin, events)
				return nil
			}
			block, err := c.GetData(ctx, getFlags.begin, end)
			if err != nil {
				return err
			}
			return printBlock(cmd.OutOrStdout(), getFlags.begin, block, getFlags.limit)
		})
	},
}

func printEvents(out io.Writer, first int, events []protocol.Event) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tTYPE\tVALUE\tSAMPLE\tOFFSET\tDURATION")
	for i, e := range events {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\n", first+i, e.Type, formatValue(e.Value), e.Sample, e.Offset, e.Duration)
	}
	w.Flush()
}

func formatValue(v protocol.Value) string {
	if v.IsString() {
		return strconv.Quote(v.Str)
	}
	if f, err := array.ToSlice[float64](*v.Array); err == nil && len(f) == 1 {
		return strconv.FormatFloat(f[0], 'g', -1, 64)
	}
	return v.Array.Descriptor.String()
}

// printBlock prints one row per sample, at most limit rows.
func printBlock(out io.Writer, first int, block array.Array, limit int) error {
	values, err := sampleValues(block)
	if err != nil {
		return err
	}
	channels, samples := block.Sizes[0], block.Sizes[1]
	fmt.Fprintf(out, "%s\n", block.Descriptor)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	for s := 0; s < samples; s++ {
		if limit > 0 && s == limit {
			fmt.Fprintf(w, "... %d more\t\n", samples-s)
			break
		}
		fmt.Fprintf(w, "%d\t", first+s)
		for ch := 0; ch < channels; ch++ {
			fmt.Fprintf(w, "%g\t", values[s*channels+ch])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

// sampleValues widens any numeric block to float64 in storage order.
func sampleValues(block array.Array) ([]float64, error) {
	switch block.Type {
	case array.Double:
		return array.ToSlice[float64](block)
	case array.Float:
		return widen(array.ToSlice[float32](block))
	case array.Int8:
		return widen(array.ToSlice[int8](block))
	case array.Uint8:
		return widen(array.ToSlice[uint8](block))
	case array.Int16:
		return widen(array.ToSlice[int16](block))
	case array.Uint16:
		return widen(array.ToSlice[uint16](block))
	case array.Int32:
		return widen(array.ToSlice[int32](block))
	case array.Uint32:
		return widen(array.ToSlice[uint32](block))
	case array.Int64:
		return widen(array.ToSlice[int64](block))
	case array.Uint64:
		return widen(array.ToSlice[uint64](block))
	}
	out := make([]float64, len(block.Data))
	for i, b := range block.Data {
		out[i] = float64(b)
	}
	return out, nil
}

func widen[T array.Numeric](v []T, err error) ([]float64, error) {
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out, nil
}

var watchFlags struct {
	wait time.Duration
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print counts and new events as they arrive.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer c.Close()
		return watch(cmd.Context(), c, cmd.OutOrStdout(), watchFlags.wait)
	},
}

// watch loops on WAIT_DAT until ctx ends.
func watch(ctx context.Context, c *ftbuffer.Client, out io.Writer, wait time.Duration) error {
	rctx, cancel := requestContext(ctx)
	last, err := c.Poll(rctx)
	cancel()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "samples=%d events=%d\n", last.Samples, last.Events)

	for ctx.Err() == nil {
		rctx, cancel := context.WithTimeout(ctx, wait+timeout)
		now, err := c.WaitData(rctx, protocol.WaitRequest{
			Samples: last.Samples + 1,
			Events:  last.Events + 1,
			Timeout: wait,
		})
		if err == nil && now.Events > last.Events {
			events, gerr := c.GetEvents(rctx, last.Events, now.Events)
			if gerr == nil {
				printEvents(out, last.Events, events)
			}
			err = gerr
		}
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if now != last {
			fmt.Fprintf(out, "samples=%d events=%d\n", now.Samples, now.Events)
		}
		last = now
	}
	return nil
}

var eventFlags struct {
	sample, offset, duration int
	number                   bool
}

var eventCmd = &cobra.Command{
	Use:   "event <type> <value>",
	Short: "Append one event.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e := protocol.Event{
			Type:     args[0],
			Value:    protocol.StringValue(args[1]),
			Sample:   eventFlags.sample,
			Offset:   eventFlags.offset,
			Duration: eventFlags.duration,
		}
		if eventFlags.number {
			x, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return errors.Wrapf(err, "parse value %q failed", args[1])
			}
			e.Value = protocol.ScalarValue(x)
		}
		return withClient(cmd, func(ctx context.Context, c *ftbuffer.Client) error {
			if e.Sample < 0 {
				counts, err := c.Poll(ctx)
				if err != nil {
					return err
				}
				e.Sample = counts.Samples
			}
			return c.PutEvents(ctx, e)
		})
	},
}

var flushCmd = &cobra.Command{
	Use:       "flush <header|data|events>",
	Short:     "Clear part of the buffer.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"header", "data", "events"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *ftbuffer.Client) error {
			switch args[0] {
			case "header":
				return c.FlushHeader(ctx)
			case "data":
				return c.FlushData(ctx)
			default:
				return c.FlushEvents(ctx)
			}
		})
	},
}

func init() {
	f := getCmd.Flags()
	f.IntVar(&getFlags.begin, "begin", 0, "first sample or event")
	f.IntVar(&getFlags.end, "end", -1, "end of the range, exclusive")
	f.BoolVar(&getFlags.events, "events", false, "print events instead of samples")
	f.IntVar(&getFlags.limit, "limit", 20, "rows to print, 0 for all")

	watchCmd.Flags().DurationVar(&watchFlags.wait, "wait", 2*time.Second, "server-side wait per request")

	f = eventCmd.Flags()
	f.IntVar(&eventFlags.sample, "sample", -1, "sample the event refers to (default: current count)")
	f.IntVar(&eventFlags.offset, "offset", 0, "offset in samples")
	f.IntVar(&eventFlags.duration, "duration", 0, "duration in samples")
	f.BoolVar(&eventFlags.number, "number", false, "send the value as a number")
}
