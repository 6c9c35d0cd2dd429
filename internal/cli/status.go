package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cruciblehq/cruxdeb/internal/server"
)

// Represents the 'cruxdeb status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	var res server.StatusResult
	client := &server.Client{SocketPath: RootCmd.Socket}
	if err := client.Do(ctx, server.CmdStatus, nil, &res); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "version:\t%s\n", res.Version)
	fmt.Fprintf(tw, "pid:\t%d\n", res.Pid)
	fmt.Fprintf(tw, "uptime:\t%s\n", res.Uptime)
	fmt.Fprintf(tw, "builds:\t%d (%d failed)\n", res.Builds, res.Failed)
	fmt.Fprintf(tw, "active:\t%d\n", res.Active)
	return tw.Flush()
}
