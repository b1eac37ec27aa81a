package edge

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/agrosmart/internal/config"
	"github.com/LeonardoBeccarini/agrosmart/internal/model/messages"
)

const procWireless = "/proc/net/wireless"

// DeviceInfo supplies the static metadata attached to each payload.
type DeviceInfo struct {
	cfg     config.DeviceConfig
	started time.Time
	clock   Clock
	// signal reads the link quality in dBm; 0 when unknown.
	signal func() int
	ip     func() string
}

func NewDeviceInfo(cfg config.DeviceConfig, clock Clock) *DeviceInfo {
	if clock == nil {
		clock = SystemClock{}
	}
	d := &DeviceInfo{cfg: cfg, started: clock.Now(), clock: clock}
	d.signal = func() int { return readSignal(procWireless, cfg.Interface) }
	d.ip = func() string {
		if cfg.IP != "" {
			return cfg.IP
		}
		return outboundIP()
	}
	return d
}

func (d *DeviceInfo) Meta() messages.DeviceMeta {
	return messages.DeviceMeta{
		DeviceID:       d.cfg.ID,
		DeviceIP:       d.ip(),
		SystemVersion:  d.cfg.SystemVersion,
		SignalStrength: d.signal(),
		Uptime:         d.clock.Now().Sub(d.started),
	}
}

// readSignal parses the signal level column of /proc/net/wireless.
func readSignal(path, iface string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return parseWireless(bufio.NewScanner(f), iface)
}

func parseWireless(sc *bufio.Scanner, iface string) int {
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		name, rest, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) != iface {
			continue
		}
		// status link level noise ...
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return 0
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0
		}
		return int(v)
	}
	return 0
}

// outboundIP returns the local address used for the default route. No packet
// is sent for a UDP dial.
func outboundIP() string {
	conn, err := net.Dial("udp", "192.0.2.1:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if a, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return a.IP.String()
	}
	return ""
}
