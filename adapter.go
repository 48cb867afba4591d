package canflash

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// DriverInfo describes a registered native driver.
type DriverInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	Capabilities       FilterCapabilities
	New                func(*DriverConfig) (Driver, error)
}

func (d *DriverInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v, filter slots: %d, masks: %v",
		d.Name, d.Description, d.RequiresSerialPort, d.Capabilities.Slots, d.Capabilities.Mask)
}

type DriverConfig struct {
	Debug        bool
	Channel      string // native channel name, e.g. PCAN_USBBUS1 or can0
	Port         string // serial port for adapters that need one
	PortBaudrate int
	Timing       Timing
	OnMessage    func(string)

	// Responder answers transmitted frames on the virtual driver. Hardware
	// drivers ignore it.
	Responder func(Frame) []Frame
}

var (
	driverMu  sync.RWMutex
	driverMap = make(map[string]*DriverInfo)
)

// NewDriver creates the driver registered under name.
func NewDriver(name string, cfg *DriverConfig) (Driver, error) {
	if cfg == nil {
		cfg = &DriverConfig{}
	}
	if cfg.Timing == 0 {
		cfg.Timing = DefaultTiming
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(msg string) {
			_, file, no, ok := runtime.Caller(1)
			if ok {
				fmt.Printf("%s#%d %v\n", filepath.Base(file), no, msg)
			} else {
				fmt.Println(msg)
			}
		}
	}
	driverMu.RLock()
	info, found := driverMap[name]
	driverMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown driver %q", name)
	}
	return info.New(cfg)
}

func RegisterDriver(info *DriverInfo) error {
	driverMu.Lock()
	defer driverMu.Unlock()
	if _, found := driverMap[info.Name]; found {
		return fmt.Errorf("driver %s already registered", info.Name)
	}
	driverMap[info.Name] = info
	return nil
}

func ListDriverNames() []string {
	driverMu.RLock()
	defer driverMu.RUnlock()
	out := make([]string, 0, len(driverMap))
	for name := range driverMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListDrivers() []DriverInfo {
	var out []DriverInfo
	for _, name := range ListDriverNames() {
		driverMu.RLock()
		out = append(out, *driverMap[name])
		driverMu.RUnlock()
	}
	return out
}
