// ABOUTME: The discover command
// ABOUTME: Lists buffer servers advertised with mDNS on the local network
package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/ftbuffer/internal/discovery"
)

var discoverWait time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List buffer servers on the local network.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		servers, err := discovery.Lookup(cmd.Context(), discoverWait)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(servers) == 0 {
			fmt.Fprintln(out, "no servers found")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tADDRESS\tWEBSOCKET\tVERSION")
		for _, s := range servers {
			ws := "-"
			if s.WebSocketPort > 0 {
				ws = fmt.Sprintf("%s:%d", s.Host, s.WebSocketPort)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", s.Name, s.Addr(), ws, s.Version)
		}
		return w.Flush()
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverWait, "wait", 3*time.Second, "how long to listen for answers")
}
