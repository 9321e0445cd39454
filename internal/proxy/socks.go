// Package proxy builds HTTP transports for outbound calls, optionally
// tunnelled through a SOCKS5 proxy.
package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/proxy"
)

// NewTransport returns an HTTP transport that uses tlsConfig (nil for the
// default) and, when socksAddr is non-empty, dials through that SOCKS5 proxy.
func NewTransport(socksAddr string, tlsConfig *tls.Config) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	if socksAddr == "" {
		return transport, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer %s: %w", socksAddr, err)
	}

	// Name resolution happens on the proxy side.
	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return transport, nil
}
