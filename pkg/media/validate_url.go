package media

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidateMediaURL checks a URL returned by the storage collaborator before
// it is stored and handed to clients: http(s) only, and never an internal
// address.
func ValidateMediaURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid media URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("media URL has no host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if isInternalIP(ip) {
			return fmt.Errorf("media host not allowed: %s", host)
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || isSingleLabelHost(host) {
		return fmt.Errorf("media host not allowed: %s", host)
	}
	return nil
}

func isInternalIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// isSingleLabelHost matches container and LAN names such as "storage".
func isSingleLabelHost(hostname string) bool {
	return !strings.Contains(hostname, ".")
}
