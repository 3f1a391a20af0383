package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"

	"github.com/nugget/sensorpub/internal/config"
	"github.com/nugget/sensorpub/internal/mqtt/wsnet"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// dial opens the transport connection described by cfg. The returned
// connection carries raw MQTT bytes regardless of transport.
func dial(ctx context.Context, cfg config.BrokerConfig) (net.Conn, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	base, err := baseDialer(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case config.TransportTCP, "":
		return base(ctx, "tcp", addr)
	case config.TransportTLS:
		conn, err := base(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		tc := tls.Client(conn, tlsConfig(cfg))
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		return tc, nil
	case config.TransportWS, config.TransportWSS:
		return dialWebSocket(ctx, cfg, addr, base)
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}

// baseDialer returns a TCP dialer, routed through a SOCKS5 proxy when
// one is configured.
func baseDialer(cfg config.BrokerConfig) (dialFunc, error) {
	d := &net.Dialer{KeepAlive: 30 * time.Second}
	if cfg.ProxyURL == "" {
		return d.DialContext, nil
	}

	u, err := url.Parse(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL: %w", err)
	}
	pd, err := proxy.FromURL(u, d)
	if err != nil {
		return nil, fmt.Errorf("proxy dialer: %w", err)
	}
	if cd, ok := pd.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return pd.Dial(network, addr)
	}, nil
}

func tlsConfig(cfg config.BrokerConfig) *tls.Config {
	return &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSInsecureSkipVerify,
	}
}

func dialWebSocket(ctx context.Context, cfg config.BrokerConfig, addr string, base dialFunc) (net.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: cfg.WebSocketPath}
	if cfg.Transport == config.TransportWSS {
		u.Scheme = "wss"
	}

	d := websocket.Dialer{
		NetDialContext:   base,
		TLSClientConfig:  tlsConfig(cfg),
		Subprotocols:     []string{wsnet.Subprotocol},
		HandshakeTimeout: cfg.Timeout(),
	}

	ws, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", u.String(), err)
	}
	return wsnet.New(ws), nil
}
