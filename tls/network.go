package tls

import (
	"net"
)

// GetLANIPs returns the IPv4 addresses of the interfaces that are up, loopback excluded.
func GetLANIPs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				ips = append(ips, ip.String())
			}
		}
	}
	return ips, nil
}

// CertHosts is the subject list of the bridge certificate: the loopback names plus lan.
func CertHosts(lan []string) []string {
	return append([]string{"localhost", "127.0.0.1"}, lan...)
}
