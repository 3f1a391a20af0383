package mqtt

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/eclipse/paho.golang/packets"
)

// PacketName returns the MQTT control packet name for a packet type.
// Packet type numbers are identical in 3.1.1 and 5.
func PacketName(t byte) string {
	switch t {
	case packets.CONNECT:
		return "CONNECT"
	case packets.CONNACK:
		return "CONNACK"
	case packets.PUBLISH:
		return "PUBLISH"
	case packets.PUBACK:
		return "PUBACK"
	case packets.PUBREC:
		return "PUBREC"
	case packets.PUBREL:
		return "PUBREL"
	case packets.PUBCOMP:
		return "PUBCOMP"
	case packets.SUBSCRIBE:
		return "SUBSCRIBE"
	case packets.SUBACK:
		return "SUBACK"
	case packets.UNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case packets.UNSUBACK:
		return "UNSUBACK"
	case packets.PINGREQ:
		return "PINGREQ"
	case packets.PINGRESP:
		return "PINGRESP"
	case packets.DISCONNECT:
		return "DISCONNECT"
	case packets.AUTH:
		return "AUTH"
	default:
		return fmt.Sprintf("packet(%d)", t)
	}
}

var errMalformedLength = errors.New("malformed remaining length")

type scanState int

const (
	scanHeader scanState = iota
	scanLength
	scanBody
)

// frameScanner follows control packet boundaries in a byte stream that
// may arrive in arbitrary pieces.
type frameScanner struct {
	state      scanState
	packet     byte
	remaining  int
	multiplier int
	lenBytes   int
	broken     bool
}

// feed consumes p and returns the types of the packets it completed.
func (s *frameScanner) feed(p []byte) ([]byte, error) {
	if s.broken {
		return nil, errMalformedLength
	}
	var done []byte
	for i := 0; i < len(p); {
		switch s.state {
		case scanHeader:
			s.packet = p[i] >> 4
			s.remaining = 0
			s.multiplier = 1
			s.lenBytes = 0
			s.state = scanLength
			i++
		case scanLength:
			b := p[i]
			i++
			s.remaining += int(b&0x7f) * s.multiplier
			s.multiplier *= 128
			s.lenBytes++
			switch {
			case b&0x80 != 0 && s.lenBytes == 4:
				s.broken = true
				return done, errMalformedLength
			case b&0x80 != 0:
			case s.remaining == 0:
				done = append(done, s.packet)
				s.state = scanHeader
			default:
				s.state = scanBody
			}
		case scanBody:
			n := min(s.remaining, len(p)-i)
			s.remaining -= n
			i += n
			if s.remaining == 0 {
				done = append(done, s.packet)
				s.state = scanHeader
			}
		}
	}
	return done, nil
}

// observedConn reports each control packet once its last byte has been
// accepted by the underlying connection.
type observedConn struct {
	net.Conn
	onPacket func(packet byte)

	mu   sync.Mutex
	scan frameScanner
}

func newObservedConn(conn net.Conn, onPacket func(byte)) *observedConn {
	return &observedConn{Conn: conn, onPacket: onPacket}
}

func (c *observedConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.mu.Lock()
		done, _ := c.scan.feed(p[:n])
		c.mu.Unlock()
		for _, packet := range done {
			c.onPacket(packet)
		}
	}
	return n, err
}
