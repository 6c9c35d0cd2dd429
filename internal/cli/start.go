package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/cruxdeb/internal/server"
	"github.com/cruciblehq/cruxdeb/internal/settings"
)

// Represents the 'cruxdeb start' command.
type StartCmd struct {
	MetricsAddress string `help:"Serve Prometheus metrics on this address, e.g. :9464." placeholder:"ADDR"`
}

// Executes the start command.
//
// Serves builds on a Unix domain socket until the context is cancelled (e.g.
// via SIGINT or SIGTERM) or a client asks the daemon to shut down.
func (c *StartCmd) Run(ctx context.Context) error {
	overrides := map[string]any{}
	if c.MetricsAddress != "" {
		overrides[settings.KeyMetricsAddress] = c.MetricsAddress
	}

	st, err := loadSettings(overrides)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		SocketPath: RootCmd.Socket,
		Settings:   st,
	})
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("cruxdeb is running", "containerd", st.ContainerdAddress, "namespace", st.ContainerdNamespace)

	stopped := make(chan struct{})
	go func() {
		srv.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return srv.Stop()
	case <-stopped:
		return nil
	}
}
