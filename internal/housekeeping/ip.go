package housekeeping

import (
	"errors"
	"fmt"
	"net"
)

// DefaultProbeAddress is dialled (UDP, nothing is sent) to learn the outbound interface.
const DefaultProbeAddress = "8.8.8.8:80"

var ErrNoAddress = errors.New("no usable IPv4 address found")

// UDPResolver resolves the address used for outbound traffic.
type UDPResolver struct {
	ProbeAddress string
}

// ResolveOutboundAddress returns the local IP the kernel picks towards the
// probe address, falling back to the first non-loopback IPv4 interface address.
func (r UDPResolver) ResolveOutboundAddress() (string, error) {
	probe := r.ProbeAddress
	if probe == "" {
		probe = DefaultProbeAddress
	}

	ip, dialErr := dialLocalIP(probe)
	if dialErr == nil {
		return ip.String(), nil
	}

	ip, err := FindInterfaceIP()
	if err != nil {
		return "", fmt.Errorf("outbound address via %s: %v; interfaces: %w", probe, dialErr, err)
	}
	return ip.String(), nil
}

func dialLocalIP(probe string) (net.IP, error) {
	conn, err := net.Dial("udp4", probe)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsUnspecified() {
		return nil, ErrNoAddress
	}
	return addr.IP, nil
}

// FindInterfaceIP returns the first non-loopback IPv4 interface address.
func FindInterfaceIP() (net.IP, error) {
	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}

	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip, nil
	}

	return nil, ErrNoAddress
}
