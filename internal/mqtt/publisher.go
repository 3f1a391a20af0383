package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/packets"

	"github.com/nugget/sensorpub/internal/config"
)

// State is a step of the publish-and-confirm protocol.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StatePublishing
	StateConfirmed
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePublishing:
		return "publishing"
	case StateConfirmed:
		return "confirmed"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result describes a finished publish attempt.
type Result struct {
	// Confirm is the completion signal that was awaited ("sent" or "acked").
	Confirm string
	// Elapsed covers connect, publish and confirmation.
	Elapsed time.Duration
}

// Publisher issues exactly one publish per instance and waits for it to
// be confirmed. It is not reusable.
type Publisher struct {
	cfg    config.BrokerConfig
	open   OpenFunc
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// NewPublisher creates a Publisher but does not connect. A nil open
// uses [Open].
func NewPublisher(cfg config.BrokerConfig, open OpenFunc, logger *slog.Logger) *Publisher {
	if open == nil {
		open = Open
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		open:   open,
		logger: logger,
	}
}

// State returns the current protocol state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()
	p.logger.Debug("mqtt publisher state", "from", prev.String(), "to", s.String())
}

// Publish connects, submits msg and blocks until the configured
// confirmation arrives, the session fails, or the broker timeout (or
// ctx) expires. Errors wrap [ErrConnection], [ErrPublish] or
// [ErrConfirmation].
func (p *Publisher) Publish(ctx context.Context, msg Message) (Result, error) {
	if st := p.State(); st != StateDisconnected {
		return Result{}, fmt.Errorf("%w: publisher already used (state %s)", ErrPublish, st)
	}

	start := time.Now()
	res := Result{Confirm: p.cfg.Confirm}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout())
	defer cancel()

	p.setState(StateConnecting)
	sess, err := p.open(ctx, p.cfg, p.logger)
	if err != nil {
		p.setState(StateFailed)
		res.Elapsed = time.Since(start)
		return res, classify(err, ErrConnection)
	}

	err = p.await(ctx, sess, msg)

	if cerr := sess.Close(); cerr != nil {
		p.logger.Warn("mqtt session close failed", "error", cerr)
	}
	res.Elapsed = time.Since(start)

	if err != nil {
		p.setState(StateFailed)
		return res, err
	}
	p.setState(StateTerminated)

	p.logger.Info("mqtt publish confirmed",
		"topic", msg.Topic,
		"bytes", len(msg.Payload),
		"retain", msg.Retain,
		"confirm", p.cfg.Confirm,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func (p *Publisher) await(ctx context.Context, sess Session, msg Message) error {
	p.setState(StatePublishing)
	if err := sess.Publish(msg); err != nil {
		return classify(err, ErrPublish)
	}

	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConfirmation, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %w", ErrConfirmation, ctx.Err())
				}
				return fmt.Errorf("%w: session closed before the publish was confirmed", ErrConfirmation)
			}

			switch ev.Kind {
			case EventError:
				return classify(ev.Err, ErrConnection)
			case EventConnAck:
				p.logger.Debug("mqtt connected to broker", "broker", p.cfg.Host, "port", p.cfg.Port)
			case EventOutgoing:
				if ev.Packet == packets.PUBLISH && p.cfg.Confirm != config.ConfirmAcked {
					p.setState(StateConfirmed)
					return nil
				}
			case EventPubAck:
				p.setState(StateConfirmed)
				return nil
			}
		}
	}
}

// classify wraps err in fallback unless it already carries one of the
// package sentinels.
func classify(err, fallback error) error {
	if err == nil {
		return fmt.Errorf("%w: unknown failure", fallback)
	}
	for _, sentinel := range []error{ErrConnection, ErrPublish, ErrConfirmation} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", fallback, err)
}
