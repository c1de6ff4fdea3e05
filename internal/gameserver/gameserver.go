// Package gameserver drives the authoritative session at a fixed tick rate
// on top of the UDP transport and the physics arena.
package gameserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/physics"
	"github.com/blukai/bong/internal/session"
	"github.com/blukai/bong/internal/transport"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

const DefaultTickRate = 60

type Config struct {
	Network   string
	Address   string
	TickRate  int
	Transport transport.Config
}

type GameServer struct {
	transport *transport.Server
	arena     *physics.Arena
	session   *session.Session

	tickInterval time.Duration
	inboxDropped uint64

	logger *log.Logger
}

// New binds the socket. A bind failure is a *transport.HandshakeError and
// the server must not be run.
func New(config Config, logger *log.Logger) (*GameServer, error) {
	logger = logx.OrDiscard(logger)

	if config.TickRate <= 0 {
		config.TickRate = DefaultTickRate
	}
	// there are only as many spawn slots as players in a game; anyone else
	// is denied as ServerFull
	if config.Transport.MaxClients <= 0 || config.Transport.MaxClients > session.RequiredPlayers {
		config.Transport.MaxClients = session.RequiredPlayers
	}

	ts, err := transport.NewServer(config.Network, config.Address, config.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("could not construct transport server: %w", err)
	}

	arena := physics.NewArena()

	gs := &GameServer{
		transport:    ts,
		arena:        arena,
		session:      session.New(arena, ts, logger),
		tickInterval: time.Second / time.Duration(config.TickRate),
		logger:       logger,
	}

	return gs, nil
}

// Addr can be useful to retreive server's address when GameServer was
// constructed with ":0".
func (gs *GameServer) Addr() *net.UDPAddr {
	return gs.transport.Addr()
}

// Run ticks until ctx is done or the session fails, then tells every client
// to stop and closes the socket.
func (gs *GameServer) Run(ctx context.Context) error {
	recvCtx, cancelRecv := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	wg.Add(1)
	var recvErr error
	go func() {
		defer wg.Done()
		recvErr = gs.transport.Run(recvCtx)
	}()

	ticker := time.NewTicker(gs.tickInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			if err := gs.tick(now); err != nil {
				gs.logger.Error().Msgf("session failed: %v", err)
				runErr = err
				break loop
			}
		}
	}

	shutdownErr := gs.shutdown(time.Now())

	cancelRecv()
	wg.Wait()

	var errs error
	if runErr != nil {
		errs = multierror.Append(errs, runErr)
	}
	if shutdownErr != nil {
		errs = multierror.Append(errs, shutdownErr)
	}
	if recvErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not receive: %w", recvErr))
	}
	if err := gs.transport.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not close transport: %w", err))
	}
	return errs
}

// tick runs one fixed-order iteration: receive, apply connection events,
// step the session, send.
func (gs *GameServer) tick(now time.Time) error {
	gs.transport.Update(now)

	for _, ev := range gs.transport.Events() {
		var err error
		switch ev.Kind {
		case transport.Connected:
			err = gs.session.OnConnect(ev.ClientID)
		case transport.Disconnected:
			err = gs.session.OnDisconnect(ev.ClientID, ev.Reason.String())
		}
		if err != nil {
			return err
		}
	}

	if err := gs.session.Step(gs.tickInterval); err != nil {
		return err
	}

	if err := gs.transport.Flush(now); err != nil {
		// a failed write is the network's problem, not the session's
		gs.logger.Warn().Msgf("could not flush: %v", err)
	}

	if dropped := gs.transport.InboxDropped(); dropped != gs.inboxDropped {
		gs.logger.Warn().
			Uint64("dropped", dropped-gs.inboxDropped).
			Msg("tick loop fell behind, datagrams dropped")
		gs.inboxDropped = dropped
	}

	return nil
}

func (gs *GameServer) shutdown(now time.Time) error {
	var errs error

	if err := gs.session.Stop(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not broadcast stop: %w", err))
	}
	if err := gs.transport.Flush(now); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not flush: %w", err))
	}
	gs.transport.DisconnectAll(now)

	return errs
}
