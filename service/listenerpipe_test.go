package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerPipe(t *testing.T) {
	listener, client := ListenerPipe()
	defer client.Close()

	server, err := listener.Accept()
	require.NoError(t, err)

	go client.Write([]byte("ping"))
	buf := make([]byte, 4)
	_, err = server.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))

	errc := make(chan error, 1)
	go func() {
		_, err := listener.Accept()
		errc <- err
	}()
	select {
	case <-errc:
		t.Fatal("second Accept returned before Close")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, listener.Close())
	require.Equal(t, ErrListenerClosed, <-errc)
	require.NoError(t, listener.Close())

	_, err = listener.Accept()
	require.Equal(t, ErrListenerClosed, err)
	require.Equal(t, "pipe", listener.Addr().String())
}
