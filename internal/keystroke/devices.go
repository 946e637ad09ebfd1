package keystroke

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// procDevices lists the kernel's input devices on Linux.
const procDevices = "/proc/bus/input/devices"

// DeviceInfo describes one input device.
type DeviceInfo struct {
	Name     string
	Path     string
	Keyboard bool
}

// ParseDevices parses the /proc/bus/input/devices format.
func ParseDevices(r io.Reader) ([]DeviceInfo, error) {
	var (
		devices []DeviceInfo
		cur     DeviceInfo
	)
	flush := func() {
		if cur.Path != "" {
			devices = append(devices, cur)
		}
		cur = DeviceInfo{}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "N: Name="):
			cur.Name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(h, "event") {
					cur.Path = "/dev/input/" + h
				}
				if h == "kbd" {
					cur.Keyboard = true
				}
			}
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read device list: %w", err)
	}
	return devices, nil
}

// ListDevices returns the system's input devices.
func ListDevices() ([]DeviceInfo, error) {
	f, err := os.Open(procDevices)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	defer f.Close()
	return ParseDevices(f)
}

// FindDevice returns the first keyboard-capable device whose name contains
// name, ignoring case.
func FindDevice(devices []DeviceInfo, name string) (DeviceInfo, bool) {
	needle := strings.ToLower(name)
	for _, d := range devices {
		if d.Keyboard && strings.Contains(strings.ToLower(d.Name), needle) {
			return d, true
		}
	}
	return DeviceInfo{}, false
}

// ResolveDevice picks the device node from an explicit path or a name.
func ResolveDevice(path, name string) (string, error) {
	if path != "" {
		return path, nil
	}
	devices, err := ListDevices()
	if err != nil {
		return "", err
	}
	d, ok := FindDevice(devices, name)
	if !ok {
		return "", fmt.Errorf("%w: no keyboard device matching %q", ErrNotAvailable, name)
	}
	return d.Path, nil
}
