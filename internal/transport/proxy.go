package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// Pool bounds shared by every pooled client.
const (
	MaxConnsPerHost     = 20
	MaxIdleConns        = 10
	MaxIdleConnsPerHost = 10
	idleConnTimeout     = 90 * time.Second
)

// newTransport builds a pooled transport, routing through proxyURL when set.
// http and https proxies use the standard CONNECT path; socks5 and socks5h
// go through golang.org/x/net/proxy.
func newTransport(proxyURL string) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxConnsPerHost:       MaxConnsPerHost,
		MaxIdleConns:          MaxIdleConns,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return t, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid proxy url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		d, errProxy := proxy.FromURL(u, dialer)
		if errProxy != nil {
			return nil, fmt.Errorf("transport: socks proxy: %w", errProxy)
		}
		t.Proxy = nil
		if cd, ok := d.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("transport: unsupported proxy scheme %q", u.Scheme)
	}
	return t, nil
}
