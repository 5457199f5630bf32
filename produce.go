// ABOUTME: Commands that write samples into a server
// ABOUTME: sine generates test signals, stream-file decodes MP3 or FLAC audio
package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/ftbuffer/pkg/array"
	"github.com/Resonate-Protocol/ftbuffer/pkg/ftbuffer"
)

var produceFlags struct {
	channels  int
	rate      float64
	frequency float64
	dataType  string
	block     int
	loop      bool
	unpaced   bool
	keep      bool
}

var sineCmd = &cobra.Command{
	Use:   "sine",
	Short: "Write sine waves into a server at their sample rate.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		t, err := array.ParseElementType(produceFlags.dataType)
		if err != nil {
			return err
		}
		src, err := ftbuffer.SineSource(produceFlags.channels, produceFlags.rate, produceFlags.frequency, t)
		if err != nil {
			return err
		}
		return produce(cmd.Context(), src)
	},
}

var streamFileCmd = &cobra.Command{
	Use:   "stream-file <path|url>",
	Short: "Write decoded MP3 or FLAC audio into a server.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := ftbuffer.FileSource(args[0], produceFlags.loop)
		if err != nil {
			return err
		}
		return produce(cmd.Context(), src)
	},
}

func init() {
	f := sineCmd.Flags()
	f.IntVar(&produceFlags.channels, "channels", 4, "number of channels")
	f.Float64Var(&produceFlags.rate, "rate", 250, "sample rate in Hz")
	f.Float64Var(&produceFlags.frequency, "frequency", 1, "frequency of the first channel in Hz")
	f.StringVar(&produceFlags.dataType, "type", "float", "sample type: float or double")

	streamFileCmd.Flags().BoolVar(&produceFlags.loop, "loop", false, "restart the file at its end")

	for _, cmd := range []*cobra.Command{sineCmd, streamFileCmd} {
		f := cmd.Flags()
		f.IntVar(&produceFlags.block, "block", 0, "samples per request (default: a tenth of a second)")
		f.BoolVar(&produceFlags.unpaced, "unpaced", false, "send as fast as the server accepts")
		f.BoolVar(&produceFlags.keep, "keep-header", false, "append under the server's current header")
	}
}

func produce(ctx context.Context, src ftbuffer.Source) error {
	defer src.Close()

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	p, err := ftbuffer.NewProducer(c, src, ftbuffer.ProducerConfig{
		BlockSize:  produceFlags.block,
		Unpaced:    produceFlags.unpaced,
		KeepHeader: produceFlags.keep,
	})
	if err != nil {
		return err
	}
	return errors.Wrap(p.Run(ctx), "produce failed")
}
