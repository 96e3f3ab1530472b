package transport

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// TorConnectTimeout bounds a dial through the SOCKS5 proxy.
	TorConnectTimeout = 90 * time.Second
	// TorKeepAlive matches the keep-alive used for plain TCP dials.
	TorKeepAlive = 30 * time.Second
)

// DefaultTorProxyAddresses are the local SOCKS5 proxy addresses tried,
// in order, by TorDialer.Dial.
var DefaultTorProxyAddresses = []string{
	"socks5://127.0.0.1:9050", // system tor daemon
	"socks5://127.0.0.1:9150", // Tor Browser bundle
}

// onionRegex validates a v3 .onion address: 56 base32 chars + ".onion",
// optionally followed by ":port".
var onionRegex = regexp.MustCompile(`^[a-z2-7]{56}\.onion(:[0-9]{1,5})?$`)

// ValidateOnionAddress rejects anything that is not a well-formed v3
// .onion address, so a Tor-only client never silently falls back to a
// clearnet connection.
func ValidateOnionAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("transport: onion address cannot be empty")
	}
	if !strings.Contains(addr, ".onion") {
		return fmt.Errorf("transport: only .onion addresses are accepted in Tor mode")
	}
	if !onionRegex.MatchString(addr) {
		return fmt.Errorf("transport: invalid v3 .onion address format")
	}
	return nil
}

// TorDialer dials a .onion address through a local SOCKS5 Tor proxy,
// trying each configured proxy address in turn.
type TorDialer struct {
	ProxyAddresses []string
}

// NewTorDialer returns a TorDialer using the default proxy address list.
func NewTorDialer() *TorDialer {
	return &TorDialer{ProxyAddresses: DefaultTorProxyAddresses}
}

// Dial validates addr as a v3 .onion address, then connects through the
// first proxy address that accepts the connection.
func (d *TorDialer) Dial(addr string) (Conn, error) {
	if err := ValidateOnionAddress(addr); err != nil {
		return nil, err
	}

	proxyAddresses := d.ProxyAddresses
	if len(proxyAddresses) == 0 {
		proxyAddresses = DefaultTorProxyAddresses
	}

	var lastErr error
	for _, proxyURLStr := range proxyAddresses {
		proxyURL, err := url.Parse(proxyURLStr)
		if err != nil {
			lastErr = err
			continue
		}

		baseDialer := &net.Dialer{Timeout: TorConnectTimeout, KeepAlive: TorKeepAlive}
		socksDialer, err := proxy.FromURL(proxyURL, baseDialer)
		if err != nil {
			lastErr = err
			continue
		}

		conn, err := socksDialer.Dial("tcp", addr)
		if err != nil {
			lastErr = fmt.Errorf("transport: dial via %s: %w", proxyURLStr, err)
			continue
		}

		return WrapNetConn(conn), nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("transport: all tor proxy attempts failed: %w", lastErr)
	}
	return nil, fmt.Errorf("transport: no tor proxy addresses configured")
}
