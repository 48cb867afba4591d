package cmd

import (
	"errors"
	"log"

	"github.com/roffe/canflash"
	"github.com/spf13/cobra"
)

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Send every received frame back on the bus",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, err := initCAN(cmd, 0,
			canflash.WithDefaultFilterPolicy(canflash.PolicyAcceptAll),
			readTimeoutOption(cmd),
		)
		if err != nil {
			return err
		}
		defer ch.Close()

		rx, tx := ch.Split()
		ctx := cmd.Context()
		count := 0
		for ctx.Err() == nil {
			f, err := rx.ReceiveBlocking()
			if errors.Is(err, canflash.ErrTimeout) {
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.Transmit(f); err != nil {
				return err
			}
			count++
		}
		log.Printf("echoed %d frames", count)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(echoCmd)
}
