package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/protocol"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

const inboxSize = 1024

type datagram struct {
	data []byte
	addr *net.UDPAddr
}

// Config is shared by Server and Client.
type Config struct {
	ProtocolID uint64
	// MaxClients only applies to servers.
	MaxClients int
	// Timeout disconnects peers that stayed silent for this long.
	Timeout           time.Duration
	KeepAliveInterval time.Duration
	ResendInterval    time.Duration
	// PacketRate and PacketBurst limit inbound datagrams per peer.
	PacketRate  rate.Limit
	PacketBurst int
}

func DefaultConfig(protocolID uint64) Config {
	return Config{
		ProtocolID:        protocolID,
		MaxClients:        64,
		Timeout:           10 * time.Second,
		KeepAliveInterval: time.Second,
		ResendInterval:    100 * time.Millisecond,
		PacketRate:        480,
		PacketBurst:       128,
	}
}

type EventKind uint8

const (
	Connected EventKind = iota + 1
	Disconnected
)

func (k EventKind) String() string {
	if k == Connected {
		return "connected"
	}
	return "disconnected"
}

type Event struct {
	Kind     EventKind
	ClientID uint64
	Reason   DisconnectReason
}

// Server accepts connections from clients. Run owns the socket reads; every
// other method must be called from a single goroutine (the tick loop).
type Server struct {
	conn   *net.UDPConn
	config Config
	logger *log.Logger

	inbox        chan datagram
	inboxDropped atomic.Uint64

	connections map[addrKey]*connection
	byID        map[uint64]*connection
	events      []Event

	// answers to strangers (connect requests, denials) are limited
	// globally so the server can not be used as a reflector
	strangerLimiter *rate.Limiter
}

func NewServer(network, address string, config Config, logger *log.Logger) (*Server, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, &HandshakeError{Op: "resolve", Err: err}
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, &HandshakeError{Op: "bind", Err: err}
	}

	s := &Server{
		conn:   conn,
		config: config,
		logger: logx.OrDiscard(logger),

		inbox: make(chan datagram, inboxSize),

		connections: make(map[addrKey]*connection),
		byID:        make(map[uint64]*connection),

		strangerLimiter: rate.NewLimiter(config.PacketRate, config.PacketBurst),
	}

	return s, nil
}

// Addr can be useful to retreive server's address when Server was
// constructed with ":0".
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Run reads datagrams until ctx is done. It never touches connection state;
// datagrams are handed to Update through a bounded inbox and dropped when
// the inbox is full.
func (s *Server) Run(ctx context.Context) error {
	return readLoop(ctx, s.conn, s.inbox, &s.inboxDropped, s.logger)
}

func (s *Server) Close() error {
	return s.conn.Close()
}

func (s *Server) writeTo(data []byte, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(data, addr)
	return err
}

// Update processes every datagram received since the previous call and
// times out silent connections. It never blocks.
func (s *Server) Update(now time.Time) {
drain:
	for {
		select {
		case d := <-s.inbox:
			s.handleDatagram(d, now)
		default:
			break drain
		}
	}

	for _, conn := range s.connections {
		if now.Sub(conn.lastRecv) > s.config.Timeout {
			s.remove(conn, ReasonTimeout)
		}
	}
}

func (s *Server) handleDatagram(d datagram, now time.Time) {
	p := packet{}
	if err := p.UnmarshalBinary(d.data); err != nil {
		s.logger.Debug().
			Str("addr", d.addr.String()).
			Msgf("could not unmarshal packet: %v", err)
		return
	}

	conn, known := s.connections[makeAddrKey(d.addr)]
	if known && !conn.limiter.AllowN(now, 1) {
		conn.stats.PacketsLimited++
		return
	}

	if p.protocolID != s.config.ProtocolID {
		if p.kind == kindConnectRequest {
			s.deny(d.addr, p.protocolID, DenyProtocolMismatch, now)
		}
		return
	}

	if p.kind == kindConnectRequest {
		s.handleConnectRequest(conn, &p, d.addr, now)
		return
	}
	if !known {
		return
	}

	conn.lastRecv = now
	conn.stats.PacketsReceived++

	switch p.kind {
	case kindKeepAlive:
		// lastRecv is maintained above
	case kindDisconnect:
		s.remove(conn, ReasonPeer)
	case kindPayload, kindAck:
		if err := conn.handle(&p); err != nil {
			s.logger.Warn().
				Uint64("client_id", conn.clientID).
				Msgf("could not handle %s: %v", p.kind, err)
		}
	default:
		s.logger.Debug().
			Uint64("client_id", conn.clientID).
			Msgf("unexpected %s from client", p.kind)
	}
}

func (s *Server) handleConnectRequest(conn *connection, p *packet, addr *net.UDPAddr, now time.Time) {
	if conn != nil {
		// the accept got lost; answer again
		if conn.clientID == p.clientID {
			conn.lastRecv = now
			s.accept(conn, now)
			return
		}
		// a client restarted on the same address under a new id; the old
		// one is gone
		s.logger.Info().
			Uint64("client_id", conn.clientID).
			Uint64("new_client_id", p.clientID).
			Str("addr", addr.String()).
			Msg("address reused by a new client")
		s.remove(conn, ReasonPeer)
	}

	if !s.strangerLimiter.AllowN(now, 1) {
		return
	}
	if _, taken := s.byID[p.clientID]; taken {
		s.deny(addr, p.protocolID, DenyDuplicateClientID, now)
		return
	}
	if len(s.byID) >= s.config.MaxClients {
		s.deny(addr, p.protocolID, DenyServerFull, now)
		return
	}

	conn = newConnection(p.clientID, addr, now, s.config.PacketRate, s.config.PacketBurst)
	s.connections[makeAddrKey(addr)] = conn
	s.byID[p.clientID] = conn
	s.events = append(s.events, Event{Kind: Connected, ClientID: p.clientID})

	s.logger.Info().
		Uint64("client_id", p.clientID).
		Str("addr", addr.String()).
		Msg("client connected")

	s.accept(conn, now)
}

func (s *Server) accept(conn *connection, now time.Time) {
	p := &packet{protocolID: s.config.ProtocolID, kind: kindConnectAccept, clientID: conn.clientID}
	if err := conn.write(p, s.writeTo, now); err != nil {
		s.logger.Error().
			Uint64("client_id", conn.clientID).
			Msgf("could not send accept: %v", err)
	}
}

// deny answers under the requester's protocol id so it can tell a mismatch
// from silence.
func (s *Server) deny(addr *net.UDPAddr, protocolID uint64, reason DenyReason, now time.Time) {
	if reason == DenyProtocolMismatch && !s.strangerLimiter.AllowN(now, 1) {
		return
	}

	s.logger.Warn().
		Str("addr", addr.String()).
		Str("reason", reason.String()).
		Msg("denied connect request")

	p := &packet{protocolID: protocolID, kind: kindConnectDenied, reason: reason}
	data, err := p.MarshalBinary()
	if err != nil {
		return
	}
	if err := s.writeTo(data, addr); err != nil {
		s.logger.Error().Msgf("could not send deny: %v", err)
	}
}

func (s *Server) remove(conn *connection, reason DisconnectReason) {
	delete(s.connections, makeAddrKey(conn.addr))
	delete(s.byID, conn.clientID)
	s.events = append(s.events, Event{Kind: Disconnected, ClientID: conn.clientID, Reason: reason})

	stats := conn.collectStats()
	s.logger.Info().
		Uint64("client_id", conn.clientID).
		Str("reason", reason.String()).
		Uint64("sent", stats.PacketsSent).
		Uint64("received", stats.PacketsReceived).
		Uint64("limited", stats.PacketsLimited).
		Uint64("dropped", stats.Dropped).
		Msg("client disconnected")
}

// Events returns connect/disconnect events since the previous call.
func (s *Server) Events() []Event {
	events := s.events
	s.events = nil
	return events
}

// ClientIDs returns connected client ids in ascending order.
func (s *Server) ClientIDs() []uint64 {
	ids := make([]uint64, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReceiveMessage pops the next message a client sent on channel.
func (s *Server) ReceiveMessage(clientID uint64, channel protocol.ChannelID) ([]byte, bool) {
	conn, ok := s.byID[clientID]
	if !ok {
		return nil, false
	}
	return conn.receive(channel)
}

func (s *Server) Send(clientID uint64, channel protocol.ChannelID, data []byte) error {
	conn, ok := s.byID[clientID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClient, clientID)
	}
	return conn.queue(channel, data)
}

// Broadcast queues data for every connected client. A *CapacityError from
// any connection is returned (possibly among others).
func (s *Server) Broadcast(channel protocol.ChannelID, data []byte) error {
	var errs error
	for _, conn := range s.byID {
		if err := conn.queue(channel, data); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("client %d: %w", conn.clientID, err))
		}
	}
	return errs
}

// Flush writes everything queued to the network.
func (s *Server) Flush(now time.Time) error {
	var errs error
	for _, conn := range s.byID {
		err := conn.flush(
			s.config.ProtocolID,
			now,
			s.config.ResendInterval,
			s.config.KeepAliveInterval,
			s.writeTo,
		)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("client %d: %w", conn.clientID, err))
		}
	}
	return errs
}

// Disconnect tells a client it is gone and forgets it. A Disconnected event
// is emitted.
func (s *Server) Disconnect(clientID uint64, now time.Time) {
	conn, ok := s.byID[clientID]
	if !ok {
		return
	}
	p := &packet{protocolID: s.config.ProtocolID, kind: kindDisconnect}
	if err := conn.write(p, s.writeTo, now); err != nil {
		s.logger.Debug().
			Uint64("client_id", clientID).
			Msgf("could not send disconnect: %v", err)
	}
	s.remove(conn, ReasonLocal)
}

func (s *Server) DisconnectAll(now time.Time) {
	for _, id := range s.ClientIDs() {
		s.Disconnect(id, now)
	}
}

// InboxDropped returns how many datagrams were dropped because the tick
// loop did not keep up.
func (s *Server) InboxDropped() uint64 {
	return s.inboxDropped.Load()
}

func readLoop(
	ctx context.Context,
	conn *net.UDPConn,
	inbox chan<- datagram,
	dropped *atomic.Uint64,
	logger *log.Logger,
) error {
	buf := make([]byte, MaxPacketSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return fmt.Errorf("could not set read deadline: %w", err)
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			logger.Error().
				Msgf("could not read from udp: %v", err)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case inbox <- datagram{data: data, addr: addr}:
		default:
			dropped.Add(1)
		}
	}
}
