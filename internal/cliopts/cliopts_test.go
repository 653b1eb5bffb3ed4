package cliopts

import "testing"

func TestApplyEnvOverrides_FillsUnsetFlags(t *testing.T) {
	t.Setenv("CANBOOT_SERIAL", "/dev/ttyUSB0")
	t.Setenv("CANBOOT_DEVICE_CLASS", "motor-board")

	o := Options{}
	applyEnvOverrides(&o, map[string]struct{}{})

	if o.SerialDevice != "/dev/ttyUSB0" {
		t.Errorf("SerialDevice = %q, want /dev/ttyUSB0", o.SerialDevice)
	}
	if o.DeviceClass != "motor-board" {
		t.Errorf("DeviceClass = %q, want motor-board", o.DeviceClass)
	}
}

func TestApplyEnvOverrides_ExplicitFlagWins(t *testing.T) {
	t.Setenv("CANBOOT_SERIAL", "/dev/ttyUSB0")

	o := Options{SerialDevice: "/dev/ttyACM0"}
	applyEnvOverrides(&o, map[string]struct{}{"p": {}})

	if o.SerialDevice != "/dev/ttyACM0" {
		t.Errorf("SerialDevice = %q, want /dev/ttyACM0 (explicit flag must win over env)", o.SerialDevice)
	}
}

func TestApplyEnvOverrides_EmptyEnvLeavesDefaultUntouched(t *testing.T) {
	t.Setenv("CANBOOT_IF", "")

	o := Options{CANInterface: ""}
	applyEnvOverrides(&o, map[string]struct{}{})

	if o.CANInterface != "" {
		t.Errorf("CANInterface = %q, want empty (blank env var must not override)", o.CANInterface)
	}
}
