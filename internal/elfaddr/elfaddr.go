// Package elfaddr extracts a flat binary and its load address from an ELF
// image by shelling out to the ARM GNU toolchain's objcopy/objdump, the
// way the original bootloader tooling did (§6).
package elfaddr

import (
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// ErrAddressNotFound is returned when none of the known vector/code
// sections are present in the objdump section headers.
var ErrAddressNotFound = errors.New("elfaddr: flash address could not be extracted from ELF")

// sectionNames is the same ordered fallback list the original tooling
// scanned: prefer an explicit vector table, fall back to .text.
var sectionNames = []string{
	".vector", ".vectors", ".isr_vector", ".isr_vector_table", ".vector_table", ".text",
}

// objcopyBin and objdumpBin name the ARM cross toolchain binaries
// (overridable in tests).
var (
	objcopyBin = "arm-none-eabi-objcopy"
	objdumpBin = "arm-none-eabi-objdump"
)

// ConvertToBinary runs objcopy to flatten infile (an ELF image) to outfile
// (a raw binary), per the original tooling's elf_convert_to_binary.
func ConvertToBinary(infile, outfile string) error {
	cmd := exec.Command(objcopyBin, "-O", "binary", infile, outfile)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("elfaddr: objcopy %s: %w: %s", infile, err, out)
	}
	return nil
}

// ExtractStartAddress runs objdump -h on filename and returns the load
// address of the first matching section in sectionNames order.
func ExtractStartAddress(filename string) (uint32, error) {
	cmd := exec.Command(objdumpBin, "-h", filename)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("elfaddr: objdump %s: %w", filename, err)
	}
	lines := string(out)

	for _, section := range sectionNames {
		re := regexp.MustCompile(`[ \t0-9]*` + regexp.QuoteMeta(section) + `\s+[xX0-9a-fA-F]*\s+([xX0-9a-fA-F]*)`)
		m := re.FindStringSubmatch(lines)
		if m == nil {
			continue
		}
		addr := m[1]
		if addr == "" {
			continue
		}
		hex := addr
		if len(addr) >= 2 && (addr[:2] == "0x" || addr[:2] == "0X") {
			hex = addr[2:]
		}
		for len(hex) < 8 {
			hex = "0" + hex
		}
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			continue
		}
		return uint32(v), nil
	}
	return 0, ErrAddressNotFound
}
