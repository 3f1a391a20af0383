package mqtt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/sensorpub/internal/config"
)

// openV5 starts an MQTT 5 session on paho.golang. The plain paho client
// is used rather than autopaho because autopaho reconnects forever.
func openV5(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (Session, error) {
	s := newSession(cfg, logger)
	go s.runV5(ctx)
	return s, nil
}

func (s *session) runV5(ctx context.Context) {
	defer s.finish()

	s.logger.Debug("mqtt connecting", "broker", s.cfg.Host, "port", s.cfg.Port,
		"protocol", config.ProtocolV5, "client_id", s.cfg.ClientID)

	conn, err := dial(ctx, s.cfg)
	if err != nil {
		s.events.emit(SessionEvent{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrConnection, err)})
		return
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: s.cfg.ClientID,
		Conn:     s.observe(conn),
		OnClientError: func(err error) {
			s.fail(fmt.Errorf("%w: %w", ErrConnection, err))
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.fail(fmt.Errorf("%w: server sent DISCONNECT (reason 0x%02x)", ErrConnection, d.ReasonCode))
		},
	})
	client.SetErrorLogger(pahoLogger{logger: s.logger.With("component", "paho")})

	cp := &paho.Connect{
		ClientID:   s.cfg.ClientID,
		KeepAlive:  uint16(s.cfg.KeepAliveSec),
		CleanStart: true,
	}
	if s.cfg.Username != "" {
		cp.Username = s.cfg.Username
		cp.UsernameFlag = true
	}
	if s.cfg.Password != "" {
		cp.Password = []byte(s.cfg.Password)
		cp.PasswordFlag = true
	}

	if ca, err := client.Connect(ctx, cp); err != nil {
		if ca != nil {
			err = fmt.Errorf("%w (reason 0x%02x)", err, ca.ReasonCode)
		}
		conn.Close()
		s.events.emit(SessionEvent{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrConnection, err)})
		return
	}
	s.events.emit(SessionEvent{Kind: EventConnAck})

	for {
		select {
		case <-ctx.Done():
			_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return
		case <-s.stop:
			_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return
		case <-s.lost:
			return
		case <-client.Done():
			s.fail(fmt.Errorf("%w: connection closed", ErrConnection))
			return
		case msg := <-s.queue:
			go func() {
				_, err := client.Publish(ctx, &paho.Publish{
					Topic:   msg.Topic,
					Payload: msg.Payload,
					QoS:     msg.QoS,
					Retain:  msg.Retain,
				})
				s.reportPublish(err)
			}()
		}
	}
}

// pahoLogger forwards paho's error log to slog.
type pahoLogger struct {
	logger *slog.Logger
}

func (l pahoLogger) Println(v ...interface{}) {
	l.logger.Warn(fmt.Sprint(v...))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}
