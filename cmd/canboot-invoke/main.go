// Command canboot-invoke floods the CAN bus with ping datagrams to trigger
// the bootloader on one or more devices, the way the original invoke tool
// did (§D.1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/arcosh/canboot/internal/cliopts"
	"github.com/arcosh/canboot/internal/flash"
	"github.com/arcosh/canboot/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	var all bool
	opts, err := cliopts.Parse(func(fs *flag.FlagSet) {
		fs.BoolVar(&all, "a", false, "Invoke the bootloader on all devices on the bus")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ids, err := parseDeviceIDs(flag.Args(), all)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "canboot-invoke: specify one or more device IDs, or -a")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, closer, err := cliopts.Connect(ctx, opts)
	if err != nil {
		logging.L().Error("connect_failed", "error", err)
		return 1
	}
	defer closer()

	fmt.Println("Waiting for bootloader to come online. Press Ctrl+C to cancel...")
	online, err := flash.Invoke(ctx, ch, 0, ids, flash.DefaultInvokeOptions())
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("Bootloader invocation aborted.")
			return 1
		}
		logging.L().Error("invoke_failed", "error", err)
		return 1
	}
	fmt.Printf("%d of %d requested node(s) came online. Done.\n", len(online), len(ids))
	return 0
}

func parseDeviceIDs(args []string, all bool) ([]uint8, error) {
	if all {
		ids := make([]uint8, 0, 127)
		for i := 1; i < 128; i++ {
			ids = append(ids, uint8(i))
		}
		return ids, nil
	}
	ids := make([]uint8, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("canboot-invoke: invalid device ID %q", a)
		}
		ids = append(ids, uint8(n))
	}
	return ids, nil
}
