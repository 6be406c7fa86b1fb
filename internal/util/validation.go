package util

import (
	"errors"
	"net"
	"net/url"
	"strings"
)

const maxURLLength = 2048

var (
	ErrURLEmpty       = errors.New("URL is required")
	ErrURLTooLong     = errors.New("URL is too long")
	ErrURLInvalid     = errors.New("invalid URL format")
	ErrURLScheme      = errors.New("only HTTP/HTTPS URLs are allowed")
	ErrURLPrivate     = errors.New("private/local URLs are not allowed")
	ErrURLUnsupported = errors.New("unsupported domain")
)

// lookupIP is swapped in tests so validation never touches DNS.
var lookupIP = net.LookupIP

// ValidateURL checks that raw is an http(s) URL pointing at a public host.
// When domains is non-empty the host must equal one of them or be a
// subdomain of one.
func ValidateURL(raw string, domains []string) error {
	if raw == "" {
		return ErrURLEmpty
	}
	if len(raw) > maxURLLength {
		return ErrURLTooLong
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return ErrURLInvalid
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrURLScheme
	}

	hostname := strings.ToLower(parsed.Hostname())
	if len(domains) > 0 && !hostAllowed(hostname, domains) {
		return ErrURLUnsupported
	}
	if isPrivateHost(hostname) {
		return ErrURLPrivate
	}
	return nil
}

func hostAllowed(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

var privateNets []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"0.0.0.0/8",
		"169.254.0.0/16",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, _ := net.ParseCIDR(cidr)
		privateNets = append(privateNets, network)
	}
}

func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isPrivateHost(hostname string) bool {
	if hostname == "" || hostname == "localhost" {
		return true
	}

	if ip := net.ParseIP(strings.Trim(hostname, "[]")); ip != nil {
		return isPrivateIP(ip)
	}

	ips, err := lookupIP(hostname)
	if err != nil {
		return true
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return true
		}
	}
	return false
}
