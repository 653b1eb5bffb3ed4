// Command canboot-flash writes an application image to one or more
// bootloaders and verifies it, the way the original bootloader_flash tool
// did (§4.7, §6).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/arcosh/canboot/internal/cliopts"
	"github.com/arcosh/canboot/internal/elfaddr"
	"github.com/arcosh/canboot/internal/flash"
	"github.com/arcosh/canboot/internal/logging"
)

const (
	exitOK             = 0
	exitFatal          = 1
	exitELFAddress     = 2
	exitBoardsOffline  = 3
	exitVerifyMismatch = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		imageFile   string
		baseAddrHex string
		run_        bool
		pageSize    int
	)
	opts, err := cliopts.Parse(func(fs *flag.FlagSet) {
		fs.StringVar(&imageFile, "f", "", "Path to the application image to flash")
		fs.StringVar(&baseAddrHex, "a", "", "Base address of the firmware, hex (only for non-ELF images)")
		fs.BoolVar(&run_, "r", false, "Run application after flashing")
		fs.IntVar(&pageSize, "page-size", flash.DefaultPageSize, "Page size in bytes")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	if imageFile == "" {
		fmt.Fprintln(os.Stderr, "canboot-flash: -f FILE is required")
		return exitFatal
	}
	if opts.DeviceClass == "" {
		fmt.Fprintln(os.Stderr, "canboot-flash: -device-class is required")
		return exitFatal
	}

	ids, err := parseDeviceIDs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "canboot-flash: specify one or more device IDs to flash")
		return exitFatal
	}

	isELF := strings.HasSuffix(imageFile, ".elf")
	if isELF && baseAddrHex != "" {
		fmt.Fprintln(os.Stderr, "canboot-flash: multiple target addresses: the image is an ELF and already contains one")
		return exitFatal
	}
	if !isELF && baseAddrHex == "" {
		fmt.Fprintln(os.Stderr, "canboot-flash: -a ADDRESS is required for non-ELF images")
		return exitFatal
	}

	binaryPath := imageFile
	var baseAddress uint32
	if isELF {
		addr, err := elfaddr.ExtractStartAddress(imageFile)
		if err != nil {
			logging.L().Error("elf_extract_address_failed", "error", err)
			return exitELFAddress
		}
		baseAddress = addr
		binaryPath = strings.TrimSuffix(imageFile, ".elf") + ".bin"
		if err := elfaddr.ConvertToBinary(imageFile, binaryPath); err != nil {
			logging.L().Error("elf_convert_failed", "error", err)
			return exitELFAddress
		}
	} else {
		v, err := strconv.ParseUint(strings.TrimPrefix(baseAddrHex, "0x"), 16, 32)
		if err != nil {
			fmt.Fprintln(os.Stderr, "canboot-flash: invalid -a address:", err)
			return exitFatal
		}
		baseAddress = uint32(v)
	}

	binary, err := os.ReadFile(binaryPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "canboot-flash: read image:", err)
		return exitFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, closer, err := cliopts.Connect(ctx, opts)
	if err != nil {
		logging.L().Error("connect_failed", "error", err)
		return exitFatal
	}
	defer closer()

	flashOpts := flash.Options{
		Source:      0,
		PageSize:    uint32(pageSize),
		DeviceClass: opts.DeviceClass,
		Progress: func(offset, total int) {
			fmt.Printf("\r%d/%d bytes", offset, total)
		},
	}
	err = flash.Run(ctx, ch, baseAddress, binary, ids, run_, flashOpts)
	fmt.Println()
	if err != nil {
		switch {
		case errors.Is(err, flash.ErrBoardsOffline):
			logging.L().Error("flash_failed", "error", err)
			return exitBoardsOffline
		case errors.Is(err, flash.ErrVerificationFailed):
			logging.L().Error("flash_failed", "error", err)
			return exitVerifyMismatch
		default:
			logging.L().Error("flash_failed", "error", err)
			return exitFatal
		}
	}
	fmt.Println("Flashing succeeded.")
	return exitOK
}

func parseDeviceIDs(args []string) ([]uint8, error) {
	ids := make([]uint8, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 || n > 127 {
			return nil, fmt.Errorf("canboot-flash: invalid device ID %q", a)
		}
		ids = append(ids, uint8(n))
	}
	return ids, nil
}
