package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/canflash"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List available adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		name := color.New(color.FgGreen).SprintFunc()
		for _, d := range canflash.ListDrivers() {
			fmt.Printf("%-10s %s\n", name(d.Name), d.Description)
			fmt.Printf("%-10s serial port: %v, filter slots: %d, masks: %v\n", "", d.RequiresSerialPort, d.Capabilities.Slots, d.Capabilities.Mask)
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
