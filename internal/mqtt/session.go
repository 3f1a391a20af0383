package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nugget/sensorpub/internal/config"
)

// AtLeastOnce is MQTT QoS 1.
const AtLeastOnce byte = 1

const (
	// queueSize bounds the outbound request queue.
	queueSize = 10
	// eventBuffer is the capacity of the session event channel.
	eventBuffer = 16
	// closeWait bounds how long Close waits for the driver to exit.
	closeWait = 2 * time.Second
	// disconnectQuiesce is the 3.1.1 client's grace period in ms.
	disconnectQuiesce = 250
)

var (
	// ErrConnection marks a transport failure while establishing or
	// holding the session.
	ErrConnection = errors.New("connection error")

	// ErrPublish marks a publish request rejected locally or by the
	// client library.
	ErrPublish = errors.New("publish error")

	// ErrConfirmation marks a session that ended, or a deadline that
	// passed, before the publish was confirmed.
	ErrConfirmation = errors.New("confirmation failure")
)

// Message is a single publish request.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// EventKind identifies a [SessionEvent].
type EventKind int

const (
	// EventConnAck reports a successful handshake.
	EventConnAck EventKind = iota + 1
	// EventOutgoing reports a control packet fully written to the
	// connection. Packet holds its type.
	EventOutgoing
	// EventPubAck reports the library finished the QoS exchange for
	// the queued publish.
	EventPubAck
	// EventError reports a failure. Err wraps [ErrConnection] or
	// [ErrPublish].
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnAck:
		return "connack"
	case EventOutgoing:
		return "outgoing"
	case EventPubAck:
		return "puback"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// SessionEvent is one notification from the I/O driver.
type SessionEvent struct {
	Kind   EventKind
	Packet byte
	Err    error
}

// Session is a single broker connection owned by one caller.
type Session interface {
	// Publish enqueues msg for transmission. It does not wait for the
	// handshake or for the frame to be written.
	Publish(msg Message) error
	// Events returns the notification stream. The channel is closed
	// when the driver stops.
	Events() <-chan SessionEvent
	// Close disconnects and waits briefly for the driver to stop.
	Close() error
}

// OpenFunc starts a session. It must not block on the network.
type OpenFunc func(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (Session, error)

// Open starts a session using the client library for cfg.Protocol.
func Open(ctx context.Context, cfg config.BrokerConfig, logger *slog.Logger) (Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Protocol {
	case config.ProtocolV311:
		return openV311(ctx, cfg, logger)
	case config.ProtocolV5:
		return openV5(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrConnection, cfg.Protocol)
	}
}

// eventStream is a channel that can be closed while emitters are still
// running. Emits after close are dropped.
type eventStream struct {
	ch     chan SessionEvent
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newEventStream() *eventStream {
	return &eventStream{
		ch:   make(chan SessionEvent, eventBuffer),
		done: make(chan struct{}),
	}
}

func (s *eventStream) emit(ev SessionEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.done:
	}
}

func (s *eventStream) close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// session holds the state shared by both protocol drivers.
type session struct {
	cfg    config.BrokerConfig
	logger *slog.Logger
	events *eventStream
	queue  chan Message

	stop     chan struct{}
	stopOnce sync.Once
	lost     chan struct{}
	lostOnce sync.Once
	finished chan struct{}
}

func newSession(cfg config.BrokerConfig, logger *slog.Logger) *session {
	return &session{
		cfg:      cfg,
		logger:   logger,
		events:   newEventStream(),
		queue:    make(chan Message, queueSize),
		stop:     make(chan struct{}),
		lost:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (s *session) Publish(msg Message) error {
	select {
	case <-s.stop:
		return fmt.Errorf("%w: session closed", ErrPublish)
	default:
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", ErrPublish)
	}
}

func (s *session) Events() <-chan SessionEvent {
	return s.events.ch
}

func (s *session) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.finished:
		return nil
	case <-time.After(closeWait):
		return errors.New("timed out waiting for mqtt session to stop")
	}
}

// finish is deferred by every driver.
func (s *session) finish() {
	s.events.close()
	close(s.finished)
}

// fail reports err and tells the driver loop the connection is gone.
func (s *session) fail(err error) {
	s.events.emit(SessionEvent{Kind: EventError, Err: err})
	s.lostOnce.Do(func() { close(s.lost) })
}

// observe wraps conn so every written control packet is reported.
func (s *session) observe(conn net.Conn) net.Conn {
	return newObservedConn(conn, func(packet byte) {
		s.logger.Log(context.Background(), config.LevelTrace, "mqtt frame written", "packet", PacketName(packet))
		s.events.emit(SessionEvent{Kind: EventOutgoing, Packet: packet})
	})
}

func (s *session) reportPublish(err error) {
	if err != nil {
		s.events.emit(SessionEvent{Kind: EventError, Err: fmt.Errorf("%w: %w", ErrPublish, err)})
		return
	}
	s.events.emit(SessionEvent{Kind: EventPubAck})
}
