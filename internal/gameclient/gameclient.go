package gameclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/blukai/udparena/internal/debug"
	"github.com/blukai/udparena/internal/protocol"
	"github.com/phuslu/log"
)

var (
	ErrTimeout = errors.New("timeout reached")
	ErrClosed  = errors.New("client is closed")
)

type sendChPayload struct {
	msg   protocol.ClientMessage
	errCh chan error
}

// GameClient is a headless peer speaking the server's wire protocol.
type GameClient struct {
	conn    *net.UDPConn
	readBuf []byte

	logger *log.Logger

	sendCh chan sendChPayload
	recvCh chan protocol.ServerMessage

	// closed once Run's ctx is done; nothing reads sendCh after that
	done      chan struct{}
	closeOnce sync.Once

	sendTimeout time.Duration
	recvTimeout time.Duration

	mu       sync.Mutex
	clientID *protocol.ClientID
}

func NewGameClient(network, address string, logger *log.Logger) (*GameClient, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve udp addr: %w", err)
	}

	conn, err := net.DialUDP(network, nil, addr)
	if err != nil {
		return nil, fmt.Errorf("could not dial udp: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	gc := &GameClient{
		conn:    conn,
		readBuf: make([]byte, protocol.MaxDatagramSize),

		logger: logger,

		sendCh: make(chan sendChPayload),
		// buffered so a slow reader doesn't stall the socket immediately
		recvCh: make(chan protocol.ServerMessage, 256),
		done:   make(chan struct{}),

		sendTimeout: time.Second,
		recvTimeout: time.Second,
	}

	return gc, nil
}

// SetRecvTimeout changes how long Recv waits for a message.
func (gc *GameClient) SetRecvTimeout(d time.Duration) {
	gc.recvTimeout = d
}

func (gc *GameClient) LocalAddr() *net.UDPAddr {
	return gc.conn.LocalAddr().(*net.UDPAddr)
}

func (gc *GameClient) runSendCh(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-gc.sendCh:
			gc.logger.Debug().
				Stringer("msg", payload.msg.ClientTag()).
				Msg("send")

			msgBytes, err := payload.msg.MarshalBinary()
			if err != nil {
				payload.errCh <- fmt.Errorf("could not marshal: %w", err)
				continue
			}

			err = gc.conn.SetWriteDeadline(time.Now().Add(gc.sendTimeout))
			debug.Assert(err == nil)

			_, err = gc.conn.Write(msgBytes)
			if err != nil {
				gc.logger.Error().
					Err(err).
					Msg("could not write")
			}
			payload.errCh <- err
		}
	}
}

func (gc *GameClient) runRecvCh(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			err := gc.conn.SetReadDeadline(time.Now().Add(gc.recvTimeout))
			debug.Assert(err == nil)

			n, err := gc.conn.Read(gc.readBuf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}

				gc.logger.Error().
					Err(err).
					Msg("could not read")
				continue
			}

			msg, err := protocol.UnmarshalServerMessage(gc.readBuf[:n])
			if err != nil {
				gc.logger.Error().
					Str("bytes", fmt.Sprintf("%v", gc.readBuf[:n])).
					Err(err).
					Msg("could not unmarshal server message")
				continue
			}

			gc.logger.Debug().
				Stringer("msg", msg.ServerTag()).
				Msg("recv")

			// intercept the id assignment, it arrives once per session
			if assignment, ok := msg.(*protocol.SClientIDAssignment); ok {
				gc.mu.Lock()
				gc.clientID = &assignment.ID
				gc.mu.Unlock()
			}

			select {
			case gc.recvCh <- msg:
			default:
				gc.logger.Warn().
					Stringer("msg", msg.ServerTag()).
					Msg("recv queue full; dropped message")
			}
		}
	}
}

func (gc *GameClient) Run(ctx context.Context) error {
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		gc.runSendCh(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		gc.runRecvCh(ctx)
	}()

	<-ctx.Done()
	gc.closeOnce.Do(func() { close(gc.done) })
	wg.Wait()
	return gc.conn.Close()
}

// Send is blocking; it returns once msg was written to the socket, or
// ErrClosed once Run has stopped.
func (gc *GameClient) Send(msg protocol.ClientMessage) error {
	errCh := make(chan error, 1)
	select {
	case gc.sendCh <- sendChPayload{msg: msg, errCh: errCh}:
	case <-gc.done:
		return fmt.Errorf("could not send %s: %w", msg.ClientTag(), ErrClosed)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("could not send %s: %w", msg.ClientTag(), err)
	}
	return nil
}

// Recv returns the next message from the server or ErrTimeout.
func (gc *GameClient) Recv() (protocol.ServerMessage, error) {
	select {
	case <-time.After(gc.recvTimeout):
		return nil, ErrTimeout
	case msg := <-gc.recvCh:
		return msg, nil
	}
}

// RecvTag returns the next message with the given tag, discarding any other
// messages received before it.
func (gc *GameClient) RecvTag(tag protocol.ServerTag) (protocol.ServerMessage, error) {
	for {
		msg, err := gc.Recv()
		if err != nil {
			return nil, fmt.Errorf("could not recv %s: %w", tag, err)
		}
		if msg.ServerTag() == tag {
			return msg, nil
		}
	}
}

// Drain discards everything received so far and returns it.
func (gc *GameClient) Drain() []protocol.ServerMessage {
	var msgs []protocol.ServerMessage
	for {
		select {
		case msg := <-gc.recvCh:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// ClientID returns the id assigned by the server, if one was received.
func (gc *GameClient) ClientID() (protocol.ClientID, bool) {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	if gc.clientID == nil {
		return 0, false
	}
	return *gc.clientID, true
}

// Connect is blocking: it sends Connect and waits for the id assignment.
func (gc *GameClient) Connect() (protocol.ClientID, error) {
	if err := gc.Send(&protocol.CConnect{}); err != nil {
		return 0, err
	}
	msg, err := gc.RecvTag(protocol.STagClientIDAssignment)
	if err != nil {
		return 0, err
	}
	return msg.(*protocol.SClientIDAssignment).ID, nil
}

// Disconnect is non-blocking apart from the write; the server doesn't reply
// to the sender.
func (gc *GameClient) Disconnect() error {
	return gc.Send(&protocol.CDisconnect{})
}

func (gc *GameClient) Chat(text string) error {
	return gc.Send(&protocol.CChatMessage{Text: text})
}

// SpawnPlayer is blocking: it waits for the spawn broadcast of a player owned
// by this client.
func (gc *GameClient) SpawnPlayer() (*protocol.SSpawnPlayer, error) {
	id, ok := gc.ClientID()
	if !ok {
		return nil, errors.New("no client id assigned yet")
	}
	if err := gc.Send(&protocol.CRequestToSpawnPlayer{}); err != nil {
		return nil, err
	}
	for {
		msg, err := gc.RecvTag(protocol.STagSpawnPlayer)
		if err != nil {
			return nil, err
		}
		if spawn := msg.(*protocol.SSpawnPlayer); spawn.Owner == id {
			return spawn, nil
		}
	}
}

// AllPlayers is blocking.
func (gc *GameClient) AllPlayers() ([]protocol.Player, error) {
	if err := gc.Send(&protocol.CRequestAllPlayers{}); err != nil {
		return nil, err
	}
	msg, err := gc.RecvTag(protocol.STagAllPlayers)
	if err != nil {
		return nil, err
	}
	return msg.(*protocol.SAllPlayers).Players, nil
}

// MoveEntity is non-blocking apart from the write; the server doesn't echo
// position updates to the sender.
func (gc *GameClient) MoveEntity(id protocol.EntityID, pos protocol.Vec2) error {
	return gc.Send(&protocol.CEntityPosition{EntityID: id, Pos: pos})
}
