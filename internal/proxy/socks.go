package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

const clientTimeout = 120 * time.Second

// dialContext returns a dial function through the SOCKS5 proxy at socksAddr,
// or a plain dialer when socksAddr is empty.
func dialContext(socksAddr string) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	if socksAddr == "" {
		d := &net.Dialer{Timeout: 30 * time.Second}
		return d.DialContext, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}

	if cd, ok := dialer.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}, nil
}

func NewSocksClient(socksAddr string) (*http.Client, error) {
	dial, err := dialContext(socksAddr)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		DialContext: dial,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   clientTimeout,
	}, nil
}

// NewSocksDialer returns a websocket dialer sharing the proxy settings of
// NewSocksClient.
func NewSocksDialer(socksAddr string, handshake time.Duration) (*ws.Dialer, error) {
	dial, err := dialContext(socksAddr)
	if err != nil {
		return nil, err
	}

	return &ws.Dialer{
		NetDialContext:   dial,
		HandshakeTimeout: handshake,
	}, nil
}
