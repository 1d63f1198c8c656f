package util

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
)

// RedactIP zeroes the host part of an address: the last octet for IPv4 and
// everything past the /32 prefix for IPv6. Unparseable input is hashed.
func RedactIP(ip string) string {
	host, _, err := net.SplitHostPort(ip)
	if err == nil {
		ip = host
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return hashed(ip)
	}
	if ipv4 := parsed.To4(); ipv4 != nil {
		ipv4[3] = 0
		return ipv4.String()
	}
	ipv6 := parsed.To16()
	for i := 4; i < 16; i++ {
		ipv6[i] = 0
	}
	return ipv6.String()
}

// RedactFilename keeps the extension and length of a filename for logs.
func RedactFilename(name string) string {
	if name == "" {
		return ""
	}
	ext := ""
	for i := len(name) - 1; i >= 0 && len(name)-i <= 8; i-- {
		if name[i] == '.' {
			ext = name[i:]
			break
		}
	}
	return hashed(name) + ext
}

func hashed(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "hash:" + hex.EncodeToString(sum[:8])
}
