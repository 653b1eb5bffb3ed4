// Command canboot-writeconfig reads a JSON configuration object and
// uploads it to one or more bootloaders, the way the original
// write_config tool did.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
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
	var configPath string
	opts, err := cliopts.Parse(func(fs *flag.FlagSet) {
		fs.StringVar(&configPath, "c", "", "JSON file to load config from (default: stdin)")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ids, err := parseDeviceIDs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "canboot-writeconfig: specify one or more device IDs to flash")
		return 1
	}

	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, hasID := config["ID"]; hasID {
		logging.L().Error("this tool cannot be used to change node IDs")
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

	if err := flash.UpdateAndSaveConfig(ctx, ch, 0, config, ids); err != nil {
		logging.L().Error("write_config_failed", "error", err)
		return 1
	}
	fmt.Println("Configuration written and saved.")
	return 0
}

func loadConfig(path string) (map[string]interface{}, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("canboot-writeconfig: open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("canboot-writeconfig: read config: %w", err)
	}
	var config map[string]interface{}
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("canboot-writeconfig: parse config JSON: %w", err)
	}
	return config, nil
}

func parseDeviceIDs(args []string) ([]uint8, error) {
	ids := make([]uint8, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("canboot-writeconfig: invalid device ID %q", a)
		}
		ids = append(ids, uint8(n))
	}
	return ids, nil
}
