package gameserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/udparena/internal/game"
	"github.com/blukai/udparena/internal/mailbox"
	"github.com/blukai/udparena/internal/protocol"
	"github.com/blukai/udparena/internal/session"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

// Options are the server's tunables. The numeric limits are not part of the
// wire contract and can be changed freely.
type Options struct {
	// TickRate is the number of simulation steps per second.
	TickRate int
	// MaxCatchUpSteps bounds catch-up simulation after a stall. 0 means
	// unbounded.
	MaxCatchUpSteps int

	// IngestCapacity is the size of the queue between the receive
	// goroutine and the game loop.
	IngestCapacity int
	// MailboxCapacity is the size of each client's outbound queue.
	MailboxCapacity int
	// MaxSendsPerPass bounds how many messages are sent to one client before
	// moving on to the next one.
	MaxSendsPerPass int
	// SendIdleInterval is the longest the send goroutine sleeps when there is
	// nothing to send.
	SendIdleInterval time.Duration

	// SessionIdleTimeout evicts sessions that didn't send anything for this
	// long. 0 disables eviction.
	SessionIdleTimeout time.Duration

	// Welcome is sent to every client when it joins. Empty disables it.
	Welcome string
}

func DefaultOptions() Options {
	return Options{
		TickRate:         60,
		MaxCatchUpSteps:  240,
		IngestCapacity:   32,
		MailboxCapacity:  100,
		MaxSendsPerPass:  128,
		SendIdleInterval: time.Millisecond,
		Welcome:          "welcome",
	}
}

func (o Options) Validate() error {
	var errs error
	if o.TickRate <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("tick rate must be positive (got %d)", o.TickRate))
	}
	if o.MaxCatchUpSteps < 0 {
		errs = multierror.Append(errs, fmt.Errorf("max catch-up steps must not be negative (got %d)", o.MaxCatchUpSteps))
	}
	if o.IngestCapacity <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("ingest capacity must be positive (got %d)", o.IngestCapacity))
	}
	if o.MailboxCapacity <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("mailbox capacity must be positive (got %d)", o.MailboxCapacity))
	}
	if o.MaxSendsPerPass <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("max sends per pass must be positive (got %d)", o.MaxSendsPerPass))
	}
	if o.SendIdleInterval <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("send idle interval must be positive (got %s)", o.SendIdleInterval))
	}
	if o.SessionIdleTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("session idle timeout must not be negative (got %s)", o.SessionIdleTimeout))
	}
	return errs
}

func (o Options) timestep() time.Duration {
	return time.Second / time.Duration(o.TickRate)
}

// Stats is a snapshot of the live session count and of dropped and failed
// work since the server started.
type Stats struct {
	Sessions       int
	DecodeErrors   uint64
	IngestDropped  uint64
	MailboxDropped uint64
	SendErrors     uint64
}

type Server struct {
	conn *net.UDPConn
	buf  []byte

	logger *log.Logger
	opts   Options

	mailboxes *mailbox.Registry
	sessions  *session.Directory
	ingest    chan protocol.Envelope
	loop      *game.Loop

	running atomic.Bool

	decodeErrors  atomic.Uint64
	ingestDropped atomic.Uint64
	sendErrors    atomic.Uint64
}

// NewServer binds the socket. Failing to bind is the only fatal error of the
// server.
func NewServer(network, address string, opts Options, logger *log.Logger) (*Server, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("could not resolve udp addr: %w", err)
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen udp: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	mailboxes := mailbox.NewRegistry()
	sessions := session.NewDirectory(mailboxes, opts.MailboxCapacity)
	ingest := make(chan protocol.Envelope, opts.IngestCapacity)

	s := &Server{
		conn: conn,
		buf:  make([]byte, protocol.MaxDatagramSize),

		logger: logger,
		opts:   opts,

		mailboxes: mailboxes,
		sessions:  sessions,
		ingest:    ingest,
		loop: game.NewLoop(ingest, mailboxes, sessions, game.Options{
			Timestep:        opts.timestep(),
			MaxCatchUpSteps: opts.MaxCatchUpSteps,
			Welcome:         opts.Welcome,
		}, logger),
	}

	return s, nil
}

// Addr can be useful to retreive server's address when Server was
// constructed with ":0".
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *Server) Stats() Stats {
	return Stats{
		Sessions:       s.sessions.Len(),
		DecodeErrors:   s.decodeErrors.Load(),
		IngestDropped:  s.ingestDropped.Load(),
		MailboxDropped: s.mailboxes.Dropped(),
		SendErrors:     s.sendErrors.Load(),
	}
}

// admit puts env on the ingest queue without blocking. It reports false when
// the queue is full and env was dropped.
func (s *Server) admit(env protocol.Envelope) bool {
	select {
	case s.ingest <- env:
		return true
	default:
		s.ingestDropped.Add(1)
		s.logger.Warn().
			Uint32("client", uint32(env.ClientID)).
			Stringer("msg", env.Message.ClientTag()).
			Msg("ingest queue full; dropped message")
		return false
	}
}

// Run starts the receive, send, simulation and eviction goroutines and blocks
// until ctx is done. The socket is closed on return.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server is already running")
	}

	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runRecv(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runSend(ctx)
	}()

	if s.opts.SessionIdleTimeout > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runSessionEvictor(ctx)
		}()
	}

	var loopErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		loopErr = s.loop.Run(ctx)
	}()

	<-ctx.Done()
	wg.Wait()

	var errs error
	if loopErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("game loop: %w", loopErr))
	}
	if err := s.conn.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("could not close conn: %w", err))
	}
	return errs
}
