package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_pumprelay._tcp"
	mdnsDomain      = "local."
)

// startMDNS advertises the relay so the device agent can find it on the LAN.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "pumprelay"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("Pump Relay (%s)", hostname))

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, mdnsTXT(port, a.cfg.MetricsPort), nil)
	if err != nil {
		return err
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func mdnsTXT(port, metricsPort int) []string {
	txt := []string{
		fmt.Sprintf("ws_port=%d", port),
		"ws_path=/ws",
		"proto=v1",
	}
	if metricsPort > 0 {
		txt = append(txt, fmt.Sprintf("metrics_port=%d", metricsPort))
	}
	return txt
}

// sanitizeMDNSInstance makes name safe for a DNS-SD instance label.
func sanitizeMDNSInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(cleaned)
	if cleaned == "" {
		cleaned = "Pump Relay"
	}
	runes := []rune(cleaned)
	const maxLen = 63
	if len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}
