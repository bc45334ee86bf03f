package cmd

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitwit/payterm/reconciler"
	"github.com/vitwit/payterm/types"
)

var watchNetwork string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll one network and print every change of its active transaction",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		network := types.Network(watchNetwork)
		a, err := newApp(ctx, network)
		if err != nil {
			return err
		}
		defer a.close()

		rec, err := a.term.Reconciler(network)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		unsubscribe := rec.Subscribe(func(ch reconciler.Change) {
			_ = enc.Encode(ch)
		})
		defer unsubscribe()

		if err := a.term.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchNetwork, "network", "n", "", "network to watch")
	_ = watchCmd.MarkFlagRequired("network")
	rootCmd.AddCommand(watchCmd)
}
