package cmd

import (
	"log"
	"sync"

	"github.com/avast/retry-go"
	"github.com/roffe/canflash"
	"github.com/roffe/canflash/pkg/stm32"
	"github.com/spf13/cobra"

	_ "github.com/roffe/canflash/pkg/pcan"
	_ "github.com/roffe/canflash/pkg/slcan"
	_ "github.com/roffe/canflash/pkg/socketcan"
	_ "github.com/roffe/canflash/pkg/virtual"
)

// simulatedFlashSize is the flash attached to the virtual adapter.
const simulatedFlashSize = 1 << 20

// initCAN opens the selected adapter. The virtual adapter is answered by a
// simulated bootloader with its flash at base.
func initCAN(cmd *cobra.Command, base uint32, opts ...canflash.ChannelOption) (*canflash.Channel, error) {
	flags := cmd.Flags()
	adapterName, _ := flags.GetString(flagAdapter)
	channel, _ := flags.GetString(flagChannel)
	port, _ := flags.GetString(flagPort)
	baudrate, _ := flags.GetInt(flagBaudrate)
	rate, _ := flags.GetFloat64(flagRate)
	timeout, _ := flags.GetDuration(flagTimeout)
	attempts, _ := flags.GetInt(flagOpenRetries)
	debug, _ := flags.GetBool(flagDebug)

	timing, err := canflash.TimingForRate(rate)
	if err != nil {
		return nil, err
	}

	cfg := &canflash.DriverConfig{
		Debug:        debug,
		Channel:      channel,
		Port:         port,
		PortBaudrate: baudrate,
		Timing:       timing,
		OnMessage:    logLine,
		Responder:    simulatedBootloader(base),
	}

	var ch *canflash.Channel
	err = retry.Do(
		func() error {
			drv, err := canflash.NewDriver(adapterName, cfg)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			c, err := canflash.Open(drv, append([]canflash.ChannelOption{
				canflash.WithTiming(timing),
				canflash.WithReadTimeout(timeout),
				canflash.WithDebug(debug),
			}, opts...)...)
			if err != nil {
				return err
			}
			ch = c
			return nil
		},
		retry.Context(cmd.Context()),
		retry.Attempts(uint(max(attempts, 1))),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("open %s failed: %v, retrying", adapterName, err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// simulatedBootloader allocates the target flash on the first frame, so
// hardware adapters never pay for it.
func simulatedBootloader(base uint32) func(canflash.Frame) []canflash.Frame {
	target := sync.OnceValue(func() *stm32.Target {
		return stm32.NewTarget(base, simulatedFlashSize)
	})
	return func(f canflash.Frame) []canflash.Frame {
		return target().Respond(f)
	}
}

func logLine(msg string) {
	log.Println(msg)
}
