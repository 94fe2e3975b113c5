package service

import (
	"errors"
	"net"
	"sync"
)

// ErrListenerClosed is returned by the Accept method of a listener created
// by ListenerPipe once the listener is closed.
var ErrListenerClosed = errors.New("accept failed: listener closed")

// ListenerPipe returns an in-memory net.Listener and the client end of the
// single connection it will ever accept. The terminal client started by
// 'memview attach' talks to its server through it.
//
// The first call to Accept returns the server end of the connection, any
// later call blocks until the listener is closed.
func ListenerPipe() (net.Listener, net.Conn) {
	server, client := net.Pipe()
	return &pipeListener{conn: server, closed: make(chan struct{})}, client
}

type pipeListener struct {
	acceptMu  sync.Mutex
	accepted  bool
	conn      net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	l.acceptMu.Lock()
	defer l.acceptMu.Unlock()
	select {
	case <-l.closed:
		return nil, ErrListenerClosed
	default:
	}
	if !l.accepted {
		l.accepted = true
		return l.conn, nil
	}
	<-l.closed
	return nil, ErrListenerClosed
}

// Close unblocks pending Accept calls. The accepted connection is not
// closed.
func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *pipeListener) Addr() net.Addr {
	return pipeAddr{}
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
