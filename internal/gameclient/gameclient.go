// Package gameclient is the client side of a session: it connects to a game
// server, mirrors what the server replicates and sends local input.
package gameclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blukai/bong/internal/input"
	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/protocol"
	"github.com/blukai/bong/internal/session"
	"github.com/blukai/bong/internal/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

const DefaultTickRate = 60

type Config struct {
	Network       string
	LocalAddress  string
	ServerAddress string
	// ClientID identifies the player. Zero picks one from the wall clock.
	ClientID  uint64
	TickRate  int
	Transport transport.Config
}

type GameClient struct {
	transport *transport.Client
	mirror    *Mirror

	tickInterval time.Duration
	lastState    session.State

	logger *log.Logger
}

// NewClientID derives an identity from the wall clock in milliseconds.
func NewClientID(now time.Time) uint64 {
	return uint64(now.UnixMilli())
}

// Dial connects to the server. Handshake failures (unreachable server,
// protocol mismatch, taken id) are returned as *transport.HandshakeError.
func Dial(ctx context.Context, config Config, logger *log.Logger) (*GameClient, error) {
	logger = logx.OrDiscard(logger)

	if config.ClientID == 0 {
		config.ClientID = NewClientID(time.Now())
	}
	if config.TickRate <= 0 {
		config.TickRate = DefaultTickRate
	}

	tc, err := transport.Dial(
		ctx,
		config.Network,
		config.LocalAddress,
		config.ServerAddress,
		config.ClientID,
		config.Transport,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", config.ServerAddress, err)
	}

	gc := &GameClient{
		transport:    tc,
		mirror:       NewMirror(config.ClientID, logger),
		tickInterval: time.Second / time.Duration(config.TickRate),
		logger:       logger,
	}

	return gc, nil
}

func (gc *GameClient) ID() uint64 {
	return gc.transport.ClientID()
}

// Mirror is only safe to use from the goroutine calling Tick (or from the
// onTick callback of Run).
func (gc *GameClient) Mirror() *Mirror {
	return gc.mirror
}

// Tick receives and applies what the server sent, runs the local timers,
// sends input if it changed and flushes.
func (gc *GameClient) Tick(now time.Time, dt time.Duration, poller *input.Poller) error {
	gc.transport.Update(now)

	gc.receive(protocol.ChannelControl)
	gc.receive(protocol.ChannelSnapshot)

	if !gc.transport.Connected() {
		gc.logger.Info().
			Str("reason", gc.transport.DisconnectReason().String()).
			Msg("lost server")
		gc.mirror.stop()
		return nil
	}

	gc.mirror.Advance(dt)

	// a fresh game knows nothing of our keys
	state := gc.mirror.State()
	if state != gc.lastState {
		gc.lastState = state
		if poller != nil {
			poller.Reset()
		}
	}

	if poller != nil && state == session.InGame {
		if in, changed := poller.Poll(); changed {
			if err := gc.SendInput(in); err != nil {
				return err
			}
		}
	}

	if err := gc.transport.Flush(now); err != nil {
		gc.logger.Warn().Msgf("could not flush: %v", err)
	}
	return nil
}

func (gc *GameClient) receive(channel protocol.ChannelID) {
	for {
		data, ok := gc.transport.ReceiveMessage(channel)
		if !ok {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			gc.logger.Warn().Msgf("discarding message on %s channel: %v", channel, err)
			continue
		}
		if err := gc.mirror.Apply(msg); err != nil {
			gc.logger.Warn().Msgf("discarding message: %v", err)
		}
	}
}

func (gc *GameClient) SendInput(in input.Input) error {
	data, err := protocol.Encode(&protocol.PlayerInput{Direction: in.Direction, Heavy: in.Heavy})
	if err != nil {
		return err
	}
	if err := gc.transport.Send(protocol.ChannelInput, data); err != nil {
		return fmt.Errorf("could not send input: %w", err)
	}
	return nil
}

// Run ticks until ctx is done or the server stops the session. onTick, if
// not nil, is called after every tick from the ticking goroutine.
func (gc *GameClient) Run(ctx context.Context, poller *input.Poller, onTick func(*Mirror)) error {
	recvCtx, cancelRecv := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	wg.Add(1)
	var recvErr error
	go func() {
		defer wg.Done()
		recvErr = gc.transport.Run(recvCtx)
	}()

	ticker := time.NewTicker(gc.tickInterval)
	defer ticker.Stop()

	var errs error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			if err := gc.Tick(now, gc.tickInterval, poller); err != nil {
				errs = multierror.Append(errs, err)
				break loop
			}
			if onTick != nil {
				onTick(gc.mirror)
			}
			if gc.mirror.Stopped() {
				break loop
			}
		}
	}

	if err := gc.transport.Disconnect(time.Now()); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not disconnect: %w", err))
	}

	cancelRecv()
	wg.Wait()

	if recvErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not receive: %w", recvErr))
	}
	if err := gc.transport.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not close transport: %w", err))
	}
	return errs
}
