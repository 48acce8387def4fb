package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/doeshing/opsai/internal/app"
)

// NewServeCommand creates the serve command, which runs the REST and
// WebSocket API until interrupted.
func NewServeCommand(container *app.Container) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := container.Config.Server.Listen
			if listen != "" {
				addr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, container, addr)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config server.listen)")
	return cmd
}

func serve(ctx context.Context, container *app.Container, addr string) error {
	server := container.APIServer()
	log := container.Logger.With("serve")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		// Blocks until in-flight socket actions finish so their sessions
		// are released before the pool is drained.
		server.Wait()
		container.Pool.DisconnectAll()
		log.Info("connection pool drained", nil)
		return nil
	})
	return g.Wait()
}
