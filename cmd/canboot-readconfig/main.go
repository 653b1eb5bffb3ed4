// Command canboot-readconfig reads one or more bootloaders' configuration
// maps and prints them as JSON, the way the original read_config tool did.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/arcosh/canboot/internal/bootcmd"
	"github.com/arcosh/canboot/internal/cliopts"
	"github.com/arcosh/canboot/internal/flash"
	"github.com/arcosh/canboot/internal/logging"
	"github.com/arcosh/canboot/internal/transaction"
)

func main() {
	os.Exit(run())
}

func run() int {
	var all bool
	opts, err := cliopts.Parse(func(fs *flag.FlagSet) {
		fs.BoolVar(&all, "a", false, "Retrieve configurations from all bootloaders on the CAN bus")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
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

	var scanQueue []uint8
	if all {
		broadcast := make([]uint8, 0, 127)
		for i := 1; i < 128; i++ {
			broadcast = append(broadcast, uint8(i))
		}
		online, err := flash.Enumerate(ctx, ch, 0, broadcast)
		if err != nil {
			logging.L().Error("enumerate_failed", "error", err)
			return 1
		}
		for id := range online {
			scanQueue = append(scanQueue, id)
		}
	} else {
		scanQueue, err = parseDeviceIDs(flag.Args())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if len(scanQueue) == 0 {
		fmt.Fprintln(os.Stderr, "canboot-readconfig: specify one or more device IDs, or -a")
		return 1
	}

	topts := transaction.DefaultOptions()
	topts.ErrorExit = false
	topts.ReceiveTimeout = 2 * time.Second
	res, err := transaction.Run(ctx, ch, 0, bootcmd.ReadConfig(), scanQueue, topts)
	if err != nil {
		logging.L().Error("read_config_failed", "error", err)
		return 1
	}

	configs := make(map[string]map[string]interface{}, len(res.Answers))
	for id, payload := range res.Answers {
		cfg, err := bootcmd.DecodeConfig(payload)
		if err != nil {
			logging.L().Error("decode_config_failed", "node", id, "error", err)
			continue
		}
		configs[strconv.Itoa(int(id))] = cfg
	}

	out, err := json.MarshalIndent(configs, "", "    ")
	if err != nil {
		logging.L().Error("marshal_failed", "error", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func parseDeviceIDs(args []string) ([]uint8, error) {
	ids := make([]uint8, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("canboot-readconfig: invalid device ID %q", a)
		}
		ids = append(ids, uint8(n))
	}
	return ids, nil
}
