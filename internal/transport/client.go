package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/blukai/bong/internal/logx"
	"github.com/blukai/bong/internal/protocol"
	"github.com/phuslu/log"
)

const (
	HandshakeTimeout = 5 * time.Second
	handshakeRetry   = 100 * time.Millisecond
)

// Client is a connection to a Server. Like Server, Run owns the socket
// reads and everything else belongs to the tick loop.
type Client struct {
	conn   *net.UDPConn
	server *connection
	config Config
	logger *log.Logger

	inbox        chan datagram
	inboxDropped atomic.Uint64

	disconnected bool
	reason       DisconnectReason
}

// Dial binds localAddress, performs the handshake with serverAddress and
// returns a connected client. Any failure is a *HandshakeError.
func Dial(
	ctx context.Context,
	network string,
	localAddress string,
	serverAddress string,
	clientID uint64,
	config Config,
	logger *log.Logger,
) (*Client, error) {
	local, err := net.ResolveUDPAddr(network, localAddress)
	if err != nil {
		return nil, &HandshakeError{Op: "resolve", Err: err}
	}
	remote, err := net.ResolveUDPAddr(network, serverAddress)
	if err != nil {
		return nil, &HandshakeError{Op: "resolve", Err: err}
	}

	conn, err := net.ListenUDP(network, local)
	if err != nil {
		return nil, &HandshakeError{Op: "bind", Err: err}
	}

	c := &Client{
		conn:   conn,
		config: config,
		logger: logx.OrDiscard(logger),
		inbox:  make(chan datagram, inboxSize),
	}

	if err := c.handshake(ctx, remote, clientID); err != nil {
		conn.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) handshake(ctx context.Context, remote *net.UDPAddr, clientID uint64) error {
	request := &packet{protocolID: c.config.ProtocolID, kind: kindConnectRequest, clientID: clientID}
	requestBytes, err := request.MarshalBinary()
	if err != nil {
		return &HandshakeError{Op: "connect", Err: err}
	}

	deadline := time.Now().Add(HandshakeTimeout)
	buf := make([]byte, MaxPacketSize)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return &HandshakeError{Op: "connect", Err: err}
		}

		if _, err := c.conn.WriteToUDP(requestBytes, remote); err != nil {
			return &HandshakeError{Op: "connect", Err: err}
		}

		retryAt := time.Now().Add(handshakeRetry)
		for time.Now().Before(retryAt) {
			if err := c.conn.SetReadDeadline(retryAt); err != nil {
				return &HandshakeError{Op: "connect", Err: err}
			}
			n, addr, err := c.conn.ReadFromUDP(buf)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					break
				}
				return &HandshakeError{Op: "connect", Err: err}
			}
			if !addr.IP.Equal(remote.IP) || addr.Port != remote.Port {
				continue
			}

			p := packet{}
			if err := p.UnmarshalBinary(buf[:n]); err != nil || p.protocolID != c.config.ProtocolID {
				continue
			}
			switch p.kind {
			case kindConnectAccept:
				if p.clientID != clientID {
					continue
				}
				c.server = newConnection(clientID, remote, time.Now(), c.config.PacketRate, c.config.PacketBurst)
				c.logger.Info().
					Uint64("client_id", clientID).
					Str("server", remote.String()).
					Msg("connected")
				return nil
			case kindConnectDenied:
				var err error
				if p.reason == DenyProtocolMismatch {
					err = ErrProtocolMismatch
				}
				return &HandshakeError{Op: "connect", Reason: p.reason, Err: err}
			}
		}
	}

	return &HandshakeError{Op: "connect", Err: fmt.Errorf("no answer from %s within %s", remote, HandshakeTimeout)}
}

func (c *Client) ClientID() uint64 {
	return c.server.clientID
}

func (c *Client) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

// Run reads datagrams until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	return readLoop(ctx, c.conn, c.inbox, &c.inboxDropped, c.logger)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) writeTo(data []byte, addr *net.UDPAddr) error {
	_, err := c.conn.WriteToUDP(data, addr)
	return err
}

// Connected reports whether the server is still there. Once false, it stays
// false; DisconnectReason tells why.
func (c *Client) Connected() bool {
	return !c.disconnected
}

func (c *Client) DisconnectReason() DisconnectReason {
	return c.reason
}

// Update processes everything received since the previous call. It never
// blocks.
func (c *Client) Update(now time.Time) {
	if c.disconnected {
		return
	}

drain:
	for {
		select {
		case d := <-c.inbox:
			c.handleDatagram(d, now)
		default:
			break drain
		}
	}

	if !c.disconnected && now.Sub(c.server.lastRecv) > c.config.Timeout {
		c.markDisconnected(ReasonTimeout)
	}
}

func (c *Client) handleDatagram(d datagram, now time.Time) {
	if !d.addr.IP.Equal(c.server.addr.IP) || d.addr.Port != c.server.addr.Port {
		return
	}

	p := packet{}
	if err := p.UnmarshalBinary(d.data); err != nil {
		c.logger.Debug().Msgf("could not unmarshal packet: %v", err)
		return
	}
	if p.protocolID != c.config.ProtocolID {
		return
	}

	c.server.lastRecv = now
	c.server.stats.PacketsReceived++

	switch p.kind {
	case kindKeepAlive, kindConnectAccept:
	case kindDisconnect:
		c.markDisconnected(ReasonPeer)
	case kindPayload, kindAck:
		if err := c.server.handle(&p); err != nil {
			c.logger.Warn().Msgf("could not handle %s: %v", p.kind, err)
		}
	default:
		c.logger.Debug().Msgf("unexpected %s from server", p.kind)
	}
}

func (c *Client) markDisconnected(reason DisconnectReason) {
	c.disconnected = true
	c.reason = reason

	stats := c.server.collectStats()
	c.logger.Info().
		Str("reason", reason.String()).
		Uint64("sent", stats.PacketsSent).
		Uint64("received", stats.PacketsReceived).
		Uint64("dropped", stats.Dropped).
		Msg("disconnected")
}

// ReceiveMessage pops the next message the server sent on channel. Messages
// that arrived before a disconnect can still be drained.
func (c *Client) ReceiveMessage(channel protocol.ChannelID) ([]byte, bool) {
	return c.server.receive(channel)
}

func (c *Client) Send(channel protocol.ChannelID, data []byte) error {
	if c.disconnected {
		return ErrNotConnected
	}
	return c.server.queue(channel, data)
}

func (c *Client) Flush(now time.Time) error {
	if c.disconnected {
		return nil
	}
	return c.server.flush(
		c.config.ProtocolID,
		now,
		c.config.ResendInterval,
		c.config.KeepAliveInterval,
		c.writeTo,
	)
}

// Disconnect tells the server we are leaving. Further sends fail.
func (c *Client) Disconnect(now time.Time) error {
	if c.disconnected {
		return nil
	}
	p := &packet{protocolID: c.config.ProtocolID, kind: kindDisconnect}
	err := c.server.write(p, c.writeTo, now)
	c.markDisconnected(ReasonLocal)
	return err
}
