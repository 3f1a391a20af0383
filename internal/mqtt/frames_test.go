package mqtt

import (
	"bytes"
	"net"
	"testing"

	"github.com/eclipse/paho.golang/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, cp *packets.ControlPacket) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := cp.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func publishFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	cp := packets.NewControlPacket(packets.PUBLISH)
	pub := cp.Content.(*packets.Publish)
	pub.Topic = "home/sensor1"
	pub.QoS = 1
	pub.PacketID = 7
	pub.Payload = payload
	pub.Properties = &packets.Properties{}
	return encode(t, cp)
}

func TestFrameScanner_WholePackets(t *testing.T) {
	var s frameScanner
	stream := append(publishFrame(t, []byte(`{"motion":true}`)), 0xC0, 0x00) // PUBLISH, PINGREQ

	done, err := s.feed(stream)
	require.NoError(t, err)
	assert.Equal(t, []byte{packets.PUBLISH, packets.PINGREQ}, done)
}

func TestFrameScanner_ByteAtATime(t *testing.T) {
	var s frameScanner
	frame := publishFrame(t, bytes.Repeat([]byte("x"), 300)) // two-byte remaining length

	var done []byte
	for i := range frame {
		got, err := s.feed(frame[i : i+1])
		require.NoError(t, err)
		if i < len(frame)-1 {
			assert.Empty(t, got, "packet reported before its last byte at offset %d", i)
		}
		done = append(done, got...)
	}
	assert.Equal(t, []byte{packets.PUBLISH}, done)
}

func TestFrameScanner_SplitAcrossWrites(t *testing.T) {
	var s frameScanner
	frame := publishFrame(t, []byte(`{"motion":false,"battery":80}`))
	cut := len(frame) / 2

	done, err := s.feed(frame[:cut])
	require.NoError(t, err)
	assert.Empty(t, done)

	done, err = s.feed(append(frame[cut:], 0xE0, 0x00)) // tail plus DISCONNECT
	require.NoError(t, err)
	assert.Equal(t, []byte{packets.PUBLISH, packets.DISCONNECT}, done)
}

func TestFrameScanner_MalformedLength(t *testing.T) {
	var s frameScanner
	_, err := s.feed([]byte{0x30, 0xff, 0xff, 0xff, 0xff})
	require.ErrorIs(t, err, errMalformedLength)

	_, err = s.feed([]byte{0xC0, 0x00})
	assert.ErrorIs(t, err, errMalformedLength, "scanner stays broken")
}

// recordingConn accepts writes in fixed-size pieces to exercise short
// writes.
type recordingConn struct {
	net.Conn
	chunk int
	buf   bytes.Buffer
}

func (c *recordingConn) Write(p []byte) (int, error) {
	n := min(len(p), c.chunk)
	c.buf.Write(p[:n])
	return n, nil
}

func TestObservedConn_ReportsAfterLastByte(t *testing.T) {
	rc := &recordingConn{chunk: 5}
	var seen []byte
	conn := newObservedConn(rc, func(p byte) { seen = append(seen, p) })

	frame := publishFrame(t, []byte(`{"motion":true}`))
	written := 0
	for written < len(frame) {
		n, err := conn.Write(frame[written:])
		require.NoError(t, err)
		written += n
		if written < len(frame) {
			assert.Empty(t, seen)
		}
	}

	assert.Equal(t, []byte{packets.PUBLISH}, seen)
	assert.Equal(t, frame, rc.buf.Bytes())
}

func TestPacketName(t *testing.T) {
	assert.Equal(t, "CONNECT", PacketName(packets.CONNECT))
	assert.Equal(t, "PUBLISH", PacketName(packets.PUBLISH))
	assert.Equal(t, "PINGREQ", PacketName(packets.PINGREQ))
	assert.Equal(t, "packet(0)", PacketName(0))
}
