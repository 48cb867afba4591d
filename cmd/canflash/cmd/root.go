package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/canflash/pkg/bar"
	"github.com/roffe/canflash/pkg/metrics"
	"github.com/roffe/canflash/pkg/stm32"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "canflash [image]",
	Short:        "Flash STM32 firmware over the CAN bootloader",
	Long:         `Synchronizes with the STM32 ROM bootloader, mass-erases flash, writes the image and jumps to it.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if addr, _ := cmd.Flags().GetString(flagMetricsAddr); addr != "" {
			metrics.StartHTTP(addr)
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Usage()
		}
		return flash(cmd, args[0])
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagAdapter     = "adapter"
	flagChannel     = "channel"
	flagPort        = "port"
	flagBaudrate    = "baudrate"
	flagRate        = "rate"
	flagTimeout     = "timeout"
	flagAddress     = "address"
	flagYes         = "yes"
	flagOpenRetries = "open-retries"
	flagDebug       = "debug"
	flagMetricsAddr = "metrics-addr"
)

func defaultAdapter() string {
	switch runtime.GOOS {
	case "windows":
		return "pcan"
	case "linux":
		return "socketcan"
	default:
		return "slcan"
	}
}

func init() {
	log.SetFlags(0)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagAdapter, "a", defaultAdapter(), "what adapter to use, see the adapters command")
	pf.StringP(flagChannel, "c", "", "adapter channel, e.g. PCAN_USBBUS1 or can0")
	pf.StringP(flagPort, "p", "", "serial port for serial adapters")
	pf.IntP(flagBaudrate, "b", 115200, "serial port baudrate")
	pf.Float64P(flagRate, "r", 125, "CAN rate in kbit/s")
	pf.DurationP(flagTimeout, "t", 0, "ack timeout, 0 waits forever (a mass erase can take tens of seconds)")
	pf.Int(flagOpenRetries, 3, "attempts when opening the adapter")
	pf.BoolP(flagDebug, "d", false, "debug mode")
	pf.String(flagMetricsAddr, "", "serve prometheus metrics on this address, e.g. :9100")

	f := rootCmd.Flags()
	f.String(flagAddress, fmt.Sprintf("0x%08X", stm32.DefaultAddress), "flash address to write to and jump to")
	f.BoolP(flagYes, "y", false, "do not ask before erasing")
}

func flash(cmd *cobra.Command, filename string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	addrStr, _ := flags.GetString(flagAddress)
	addr, err := strconv.ParseUint(addrStr, 0, 32)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addrStr, err)
	}
	bin, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	log.Printf("loaded %d bytes from %s", len(bin), filepath.Base(filename))

	ch, err := initCAN(cmd, uint32(addr))
	if err != nil {
		return err
	}
	defer ch.Close()
	// unblocks a receive that waits forever for an ack
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	debug, _ := flags.GetBool(flagDebug)
	pb := bar.New(len(bin), "flashing")
	opts := []stm32.Option{stm32.WithProgress(bar.Tracker(pb))}
	if debug {
		opts = append(opts, stm32.WithOnMessage(func(msg string) { log.Println(msg) }))
	}
	c, err := stm32.New(ch, opts...)
	if err != nil {
		return err
	}

	if yes, _ := flags.GetBool(flagYes); !yes {
		log.Println("Erase flash and write image?")
		if !yesNo() {
			return nil
		}
	}

	start := time.Now()
	if err := c.Flash(ctx, bytes.NewReader(bin), len(bin), uint32(addr)); err != nil {
		return err
	}
	pb.Finish()
	snap := metrics.Snap()
	log.Printf("flashed %d bytes in %s, %d frames sent, %d acks",
		snap.BytesWritten, time.Since(start).Round(time.Millisecond), snap.TxFrames, snap.Acks)
	return nil
}

func yesNo() bool {
	prompt := promptui.Select{
		Label:    "[Yes/No]",
		HideHelp: true,
		Items:    []string{"Yes", "No"},
	}
	_, result, err := prompt.Run()
	if err != nil {
		log.Fatalf("Prompt failed %v\n", err)
	}
	return result == "Yes"
}
