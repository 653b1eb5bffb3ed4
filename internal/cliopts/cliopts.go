// Package cliopts parses the connection flags shared by every canboot-*
// binary: which physical adapter to use (serial port or SocketCAN
// interface) and verbosity, the way the original tooling's
// ConnectionArgumentParser did (§6).
package cliopts

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/arcosh/canboot/internal/logging"
)

// Options is the parsed connection configuration. Exactly one of
// SerialDevice or CANInterface is set.
type Options struct {
	SerialDevice string
	Baud         int
	CANInterface string
	Verbose      bool

	// DeviceClass is flashing-specific but is parsed here together with
	// the shared connection flags.
	DeviceClass string
}

// Parse parses os.Args[1:] (via the standard flag.CommandLine) into
// Options, applying CANBOOT_* environment overrides for flags not
// explicitly set, and validates that exactly one connection method was
// given.
func Parse(extra func(*flag.FlagSet)) (Options, error) {
	fs := flag.CommandLine
	serialDev := fs.String("p", "", "Serial port the CAN bridge is connected to")
	baud := fs.Int("baud", 115200, "Serial baud rate")
	canIf := fs.String("i", "", "SocketCAN interface, e.g. can0 (Linux only)")
	verbose := fs.Bool("v", false, "Print verbose output")
	deviceClass := fs.String("device-class", "", "Device class string checked by the bootloader")
	if extra != nil {
		extra(fs)
	}
	fs.Parse(os.Args[1:])

	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	opts := Options{
		SerialDevice: *serialDev,
		Baud:         *baud,
		CANInterface: *canIf,
		Verbose:      *verbose,
		DeviceClass:  *deviceClass,
	}
	applyEnvOverrides(&opts, set)

	if opts.Verbose {
		logging.Set(logging.New("text", slog.LevelDebug, nil))
	}

	methods := 0
	for _, v := range []string{opts.SerialDevice, opts.CANInterface} {
		if v != "" {
			methods++
		}
	}
	if methods == 0 {
		return opts, fmt.Errorf("cliopts: you must specify which CAN interface to use (-p or -i)")
	}
	if methods > 1 {
		return opts, fmt.Errorf("cliopts: you can only use one CAN interface at a time")
	}
	return opts, nil
}

// applyEnvOverrides maps CANBOOT_* environment variables onto opts fields
// not already set explicitly on the command line.
func applyEnvOverrides(o *Options, set map[string]struct{}) {
	override := func(flagName, envName string, dst *string) {
		if _, explicit := set[flagName]; explicit {
			return
		}
		if v, ok := os.LookupEnv(envName); ok && v != "" {
			*dst = v
		}
	}
	override("p", "CANBOOT_SERIAL", &o.SerialDevice)
	override("i", "CANBOOT_IF", &o.CANInterface)
	override("device-class", "CANBOOT_DEVICE_CLASS", &o.DeviceClass)
}
