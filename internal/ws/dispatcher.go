package ws

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roulette/internal/engine"
	apperrors "github.com/whisper/roulette/internal/errors"
	"github.com/whisper/roulette/internal/protocol"
	"github.com/whisper/roulette/internal/ratelimit"
)

// openTimeout bounds how long an upgrade waits for the engine to accept it.
const openTimeout = 5 * time.Second

// Submitter is the part of engine.Loop the dispatcher needs.
type Submitter interface {
	Submit(t engine.Task) error
	Do(ctx context.Context, t engine.Task) error
}

// ConnectLimiter is the Redis fixed-window guard on upgrades.
type ConnectLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, time.Duration, error)
}

// Dispatcher is the Handler that turns socket events into engine tasks.
// Parsing happens on the worker; only decoded messages reach the loop.
type Dispatcher struct {
	loop    Submitter
	limiter ConnectLimiter // nil disables the upgrade guard
	rule    ratelimit.Rule
	logger  zerolog.Logger
}

func NewDispatcher(loop Submitter, limiter ConnectLimiter, connectPerMinute int) *Dispatcher {
	return &Dispatcher{
		loop:    loop,
		limiter: limiter,
		rule:    ratelimit.ConnectRule(connectPerMinute),
		logger:  log.With().Str("component", "dispatcher").Logger(),
	}
}

// Admit applies the per-address upgrade limit. Redis failures let the
// request through.
func (d *Dispatcher) Admit(ctx context.Context, address string) error {
	if d.limiter == nil || d.rule.Limit <= 0 {
		return nil
	}
	ok, retry, _ := d.limiter.Allow(ctx, address, d.rule)
	if ok {
		return nil
	}
	return apperrors.RateLimited("connect", retry)
}

// Open records the connection with the engine and waits for the verdict.
func (d *Dispatcher) Open(c *Connection) error {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	var connectErr error
	if err := d.loop.Do(ctx, func(e *engine.Engine) {
		connectErr = e.Connect(c.ID, c.Address)
	}); err != nil {
		return err
	}
	return connectErr
}

// Message decodes one frame and queues it for the engine. Malformed frames
// still go through the loop so they are charged to the sender's quota.
func (d *Dispatcher) Message(c *Connection, data []byte) {
	id := c.ID
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		d.logger.Debug().Str("conn", id).Err(err).Msg("parse error")
		if subErr := d.loop.Submit(func(e *engine.Engine) { e.Malformed(id, err) }); subErr != nil {
			d.reply(c, protocol.ErrorFrom(err))
		}
		return
	}

	if err := d.loop.Submit(func(e *engine.Engine) { e.Handle(id, msg) }); err != nil {
		d.logger.Warn().Str("conn", id).Str("type", msgType).Err(err).Msg("dropping message")
	}
}

// Closed tells the engine the socket is gone.
func (d *Dispatcher) Closed(id string) {
	if err := d.loop.Submit(func(e *engine.Engine) { e.Disconnect(id) }); err != nil {
		d.logger.Debug().Str("conn", id).Err(err).Msg("disconnect not delivered")
	}
}

func (d *Dispatcher) reply(c *Connection, msg protocol.ServerMessage) {
	data, err := protocol.Encode(msg)
	if err != nil {
		d.logger.Error().Err(err).Msg("encode failed")
		return
	}
	c.Enqueue(data)
}
