package gameserver

import (
	"net"
	"testing"
	"time"

	"github.com/blukai/udparena/internal/protocol"
	"github.com/matryer/is"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	is := is.New(t)

	s, err := NewServer("udp4", "127.0.0.1:0", opts, nil)
	is.NoErr(err)
	t.Cleanup(func() { s.conn.Close() })
	return s
}

// listen returns a socket for a fake client to receive on.
func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	is := is.New(t)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	is.NoErr(err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *net.UDPConn) protocol.ServerMessage {
	t.Helper()
	is := is.New(t)

	buf := make([]byte, protocol.MaxDatagramSize)
	is.NoErr(conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := conn.Read(buf)
	is.NoErr(err)
	msg, err := protocol.UnmarshalServerMessage(buf[:n])
	is.NoErr(err)
	return msg
}

func TestSendPassCapsEachClient(t *testing.T) {
	is := is.New(t)

	opts := DefaultOptions()
	opts.MaxSendsPerPass = 1
	s := newTestServer(t, opts)

	const queued = 4
	receivers := []*net.UDPConn{listen(t), listen(t)}
	for i, conn := range receivers {
		id := protocol.ClientID(i)
		is.NoErr(s.sessions.Register(id, conn.LocalAddr().(*net.UDPAddr).AddrPort()))
		for j := 0; j < queued; j++ {
			is.NoErr(s.mailboxes.Push(id, &protocol.SClientJoined{ID: protocol.ClientID(j)}))
		}
	}

	// one message per client, the chatty one doesn't starve the other
	is.Equal(s.sendPass(), 2)
	for i, conn := range receivers {
		is.Equal(s.mailboxes.Pending(protocol.ClientID(i)), queued-1)
		is.Equal(readMessage(t, conn), &protocol.SClientJoined{ID: 0})
	}

	is.Equal(s.sendPass(), 2)
	for i, conn := range receivers {
		is.Equal(s.mailboxes.Pending(protocol.ClientID(i)), queued-2)
		is.Equal(readMessage(t, conn), &protocol.SClientJoined{ID: 1})
	}
	is.Equal(s.Stats().SendErrors, uint64(0))
}

func TestSendPassSkipsMailboxWithoutSession(t *testing.T) {
	is := is.New(t)

	s := newTestServer(t, DefaultOptions())

	conn := listen(t)
	is.NoErr(s.sessions.Register(0, conn.LocalAddr().(*net.UDPAddr).AddrPort()))
	is.NoErr(s.mailboxes.Push(0, &protocol.SWelcome{Text: "hi"}))

	const orphan = protocol.ClientID(99)
	is.NoErr(s.mailboxes.Create(orphan, 4))
	is.NoErr(s.mailboxes.Push(orphan, &protocol.SClientLeft{ID: 1}))

	is.Equal(s.sendPass(), 1)
	is.Equal(readMessage(t, conn), &protocol.SWelcome{Text: "hi"})

	// left untouched, there is nowhere to send it
	is.Equal(s.mailboxes.Pending(orphan), 1)
	is.Equal(s.Stats().SendErrors, uint64(0))
}
