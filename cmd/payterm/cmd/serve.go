package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitwit/payterm/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reconcilers and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "")
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.term.Start(ctx); err != nil {
			return err
		}

		srv, err := server.New(a.term, a.cfg.HTTP, server.Options{Logger: a.log, Registry: a.registry})
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		a.log.Info("shutdown signal received", nil)
		return srv.Shutdown(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
