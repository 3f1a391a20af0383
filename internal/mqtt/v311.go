package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	pahov3 "github.com/eclipse/paho.mqtt.golang"

	"github.com/nugget/sensorpub/internal/config"
)

// openV311 starts an MQTT 3.1.1 session on paho.mqtt.golang. Automatic
// reconnection and connect retry stay off: the first failure is final.
func openV311(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (Session, error) {
	s := newSession(cfg, logger)

	// The broker URL is only a label here; the custom open function
	// below does the real dialing for every transport.
	server := &url.URL{Scheme: "tcp", Host: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))}

	opts := pahov3.NewClientOptions().
		AddBroker(server.String()).
		SetClientID(cfg.ClientID).
		SetProtocolVersion(4).
		SetCleanSession(true).
		SetKeepAlive(cfg.KeepAlive()).
		SetConnectTimeout(cfg.Timeout()).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCustomOpenConnectionFn(func(*url.URL, pahov3.ClientOptions) (net.Conn, error) {
			conn, err := dial(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return s.observe(conn), nil
		}).
		SetConnectionLostHandler(func(_ pahov3.Client, err error) {
			s.fail(fmt.Errorf("%w: connection lost: %w", ErrConnection, err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	go s.runV311(ctx, pahov3.NewClient(opts))
	return s, nil
}

func (s *session) runV311(ctx context.Context, client pahov3.Client) {
	defer s.finish()

	s.logger.Debug("mqtt connecting", "broker", s.cfg.Host, "port", s.cfg.Port,
		"protocol", config.ProtocolV311, "client_id", s.cfg.ClientID)

	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return
	case <-s.stop:
		return
	}
	if err := tok.Error(); err != nil {
		s.events.emit(SessionEvent{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrConnection, err)})
		return
	}
	s.events.emit(SessionEvent{Kind: EventConnAck})

	for {
		select {
		case <-ctx.Done():
			client.Disconnect(disconnectQuiesce)
			return
		case <-s.stop:
			client.Disconnect(disconnectQuiesce)
			return
		case <-s.lost:
			return
		case msg := <-s.queue:
			pt := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
			go func() {
				<-pt.Done()
				s.reportPublish(pt.Error())
			}()
		}
	}
}
