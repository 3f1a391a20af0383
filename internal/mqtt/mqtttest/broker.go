// Package mqtttest runs a minimal in-process MQTT broker for tests.
//
// The broker records every CONNECT and PUBLISH it receives and can be
// told to misbehave in the ways a real broker or network does. It speaks
// MQTT 3.1.1 through paho.mqtt.golang's packet codec and MQTT 5 through
// paho.golang's.
package mqtttest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	packets5 "github.com/eclipse/paho.golang/packets"
	packets3 "github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/gorilla/websocket"

	"github.com/nugget/sensorpub/internal/mqtt/wsnet"
)

// Behavior selects how the broker treats a client.
type Behavior int

const (
	// Normal acknowledges everything.
	Normal Behavior = iota
	// RefuseConnect answers CONNECT with a "not authorized" code.
	RefuseConnect
	// HangUpOnConnect closes the connection on CONNECT.
	HangUpOnConnect
	// WithholdPubAck accepts PUBLISH but never sends PUBACK.
	WithholdPubAck
	// DisconnectOnPublish drops the connection when a PUBLISH arrives.
	DisconnectOnPublish
)

// Options configures a Broker.
type Options struct {
	// Protocol is "3.1.1" (default) or "5".
	Protocol string
	Behavior Behavior
	// WebSocket serves MQTT over ws:// at path /mqtt instead of raw TCP.
	WebSocket bool
}

// Connect is a recorded CONNECT.
type Connect struct {
	ClientID   string
	KeepAlive  uint16
	CleanStart bool
	Username   string
}

// Published is a recorded PUBLISH.
type Published struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Broker is a running fake broker.
type Broker struct {
	opts Options
	host string
	port int

	ln  net.Listener
	srv *httptest.Server

	connects  chan Connect
	publishes chan Published

	wg sync.WaitGroup
}

// Start launches a broker on 127.0.0.1 and stops it when the test ends.
func Start(t testing.TB, opts Options) *Broker {
	t.Helper()
	if opts.Protocol == "" {
		opts.Protocol = "3.1.1"
	}

	b := &Broker{
		opts:      opts,
		connects:  make(chan Connect, 16),
		publishes: make(chan Published, 16),
	}

	if opts.WebSocket {
		upgrader := websocket.Upgrader{Subprotocols: []string{wsnet.Subprotocol}}
		mux := http.NewServeMux()
		mux.HandleFunc("/mqtt", func(w http.ResponseWriter, r *http.Request) {
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			b.serve(wsnet.New(ws))
		})
		b.srv = httptest.NewServer(mux)
		u, err := url.Parse(b.srv.URL)
		if err != nil {
			t.Fatalf("parse test server URL: %v", err)
		}
		b.setAddr(t, u.Host)
		t.Cleanup(b.srv.Close)
		return b
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b.ln = ln
	b.setAddr(t, ln.Addr().String())

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.serve(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		b.wg.Wait()
	})
	return b
}

func (b *Broker) setAddr(t testing.TB, hostport string) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		t.Fatalf("split %q: %v", hostport, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}
	b.host, b.port = host, port
}

// Host returns the listen host.
func (b *Broker) Host() string { return b.host }

// Port returns the listen port.
func (b *Broker) Port() int { return b.port }

// NextConnect waits for the next CONNECT.
func (b *Broker) NextConnect(timeout time.Duration) (Connect, bool) {
	select {
	case c := <-b.connects:
		return c, true
	case <-time.After(timeout):
		return Connect{}, false
	}
}

// NextPublish waits for the next PUBLISH.
func (b *Broker) NextPublish(timeout time.Duration) (Published, bool) {
	select {
	case p := <-b.publishes:
		return p, true
	case <-time.After(timeout):
		return Published{}, false
	}
}

func (b *Broker) serve(conn net.Conn) {
	defer conn.Close()
	if b.opts.Protocol == "5" {
		b.serveV5(conn)
		return
	}
	b.serveV311(conn)
}

func (b *Broker) serveV311(conn net.Conn) {
	for {
		cp, err := packets3.ReadPacket(conn)
		if err != nil {
			return
		}

		switch p := cp.(type) {
		case *packets3.ConnectPacket:
			b.connects <- Connect{
				ClientID:   p.ClientIdentifier,
				KeepAlive:  p.Keepalive,
				CleanStart: p.CleanSession,
				Username:   p.Username,
			}
			if b.opts.Behavior == HangUpOnConnect {
				return
			}
			ack := packets3.NewControlPacket(packets3.Connack).(*packets3.ConnackPacket)
			if b.opts.Behavior == RefuseConnect {
				ack.ReturnCode = 0x05 // not authorized
			}
			if err := ack.Write(conn); err != nil || b.opts.Behavior == RefuseConnect {
				return
			}

		case *packets3.PublishPacket:
			b.publishes <- Published{
				Topic:   p.TopicName,
				Payload: p.Payload,
				QoS:     p.Qos,
				Retain:  p.Retain,
			}
			switch {
			case b.opts.Behavior == DisconnectOnPublish:
				return
			case b.opts.Behavior == WithholdPubAck || p.Qos == 0:
				continue
			}
			ack := packets3.NewControlPacket(packets3.Puback).(*packets3.PubackPacket)
			ack.MessageID = p.MessageID
			if err := ack.Write(conn); err != nil {
				return
			}

		case *packets3.PingreqPacket:
			if err := packets3.NewControlPacket(packets3.Pingresp).Write(conn); err != nil {
				return
			}

		case *packets3.DisconnectPacket:
			return
		}
	}
}

func (b *Broker) serveV5(conn net.Conn) {
	for {
		cp, err := packets5.ReadPacket(conn)
		if err != nil {
			return
		}

		switch p := cp.Content.(type) {
		case *packets5.Connect:
			b.connects <- Connect{
				ClientID:   p.ClientID,
				KeepAlive:  p.KeepAlive,
				CleanStart: p.CleanStart,
				Username:   p.Username,
			}
			if b.opts.Behavior == HangUpOnConnect {
				return
			}
			ack := packets5.NewControlPacket(packets5.CONNACK)
			ca := ack.Content.(*packets5.Connack)
			if ca.Properties == nil {
				ca.Properties = &packets5.Properties{}
			}
			if b.opts.Behavior == RefuseConnect {
				ca.ReasonCode = 0x87 // not authorized
			}
			if _, err := ack.WriteTo(conn); err != nil || b.opts.Behavior == RefuseConnect {
				return
			}

		case *packets5.Publish:
			b.publishes <- Published{
				Topic:   p.Topic,
				Payload: p.Payload,
				QoS:     p.QoS,
				Retain:  p.Retain,
			}
			switch {
			case b.opts.Behavior == DisconnectOnPublish:
				return
			case b.opts.Behavior == WithholdPubAck || p.QoS == 0:
				continue
			}
			ack := packets5.NewControlPacket(packets5.PUBACK)
			pa := ack.Content.(*packets5.Puback)
			if pa.Properties == nil {
				pa.Properties = &packets5.Properties{}
			}
			pa.PacketID = p.PacketID
			if _, err := ack.WriteTo(conn); err != nil {
				return
			}

		case *packets5.Pingreq:
			if _, err := packets5.NewControlPacket(packets5.PINGRESP).WriteTo(conn); err != nil {
				return
			}

		case *packets5.Disconnect:
			return
		}
	}
}

// Refused returns a host and port with nothing listening.
func Refused(t testing.TB) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	return "127.0.0.1", addr.Port
}
