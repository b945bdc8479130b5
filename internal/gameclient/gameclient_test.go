package gameclient_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/blukai/udparena/internal/gameclient"
	"github.com/blukai/udparena/internal/protocol"
	"github.com/matryer/is"
)

func TestSendAfterStopReturnsErrClosed(t *testing.T) {
	is := is.New(t)

	// a bound socket to write to; nobody has to answer
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	is.NoErr(err)
	defer peer.Close()

	gc, err := gameclient.NewGameClient("udp4", peer.LocalAddr().String(), nil)
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- gc.Run(ctx) }()

	is.NoErr(gc.Chat("before stop"))

	cancel()
	select {
	case err := <-runDone:
		is.NoErr(err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop")
	}

	sendDone := make(chan error, 1)
	go func() { sendDone <- gc.Send(&protocol.CDisconnect{}) }()

	select {
	case err := <-sendDone:
		is.True(errors.Is(err, gameclient.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("send blocked after stop")
	}
}
