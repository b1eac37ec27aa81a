package edge

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
)

// ProbeLink checks the uplink by opening a TCP connection to the collector.
// Reconnect optionally runs a command (for example "wpa_cli -i wlan0 reconnect")
// before probing again.
type ProbeLink struct {
	Addr         string
	ReconnectCmd []string
	dialer       net.Dialer
}

func NewProbeLink(addr string, reconnectCmd []string) *ProbeLink {
	return &ProbeLink{Addr: addr, ReconnectCmd: reconnectCmd}
}

func (l *ProbeLink) Check(ctx context.Context) error {
	conn, err := l.dialer.DialContext(ctx, "tcp", l.Addr)
	if err != nil {
		return fmt.Errorf("probe %s: %w", l.Addr, err)
	}
	return conn.Close()
}

func (l *ProbeLink) Reconnect(ctx context.Context) error {
	if len(l.ReconnectCmd) == 0 {
		return nil
	}
	out, err := exec.CommandContext(ctx, l.ReconnectCmd[0], l.ReconnectCmd[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("reconnect command: %w (%s)", err, out)
	}
	return nil
}

// ProbeAddrFromEndpoint derives host:port from a collector URL.
func ProbeAddrFromEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	switch u.Scheme {
	case "https":
		port = "443"
	case "tcp", "mqtt":
		port = "1883"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
