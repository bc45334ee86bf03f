package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/vitwit/payterm/server"
	"github.com/vitwit/payterm/types"
)

var (
	qrNetwork string
	qrPNG     string
	qrSize    int
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Print the QR payload of a network, or write it as a PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		network := types.Network(qrNetwork)
		a, err := newApp(cmd.Context(), network)
		if err != nil {
			return err
		}
		defer a.close()

		client, err := a.term.Client(network)
		if err != nil {
			return err
		}
		payload := client.QRPayload()

		if qrPNG != "" {
			png, err := server.QRCodePNG(payload, qrSize)
			if err != nil {
				return err
			}
			if err := os.WriteFile(qrPNG, png, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", qrPNG)
			return nil
		}

		content, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		q, err := qrcode.New(string(content), qrcode.Medium)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(content))
		fmt.Fprint(cmd.OutOrStdout(), q.ToSmallString(false))
		return nil
	},
}

func init() {
	qrCmd.Flags().StringVarP(&qrNetwork, "network", "n", "", "network of the terminal contract")
	qrCmd.Flags().StringVar(&qrPNG, "png", "", "write a PNG to this file instead of printing")
	qrCmd.Flags().IntVar(&qrSize, "size", 256, "PNG size in pixels")
	_ = qrCmd.MarkFlagRequired("network")
	rootCmd.AddCommand(qrCmd)
}
