package service

import (
	"net"

	"github.com/go-delve/memview/pkg/backend"
)

// Config provides the configuration to start a memory session and expose
// it with a service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// OS is the backend the session reads through.
	OS backend.OS

	// AttachPid is the PID of a process to attach to when the server starts.
	// Zero means the server starts detached.
	AttachPid int

	// AcceptMulti configures the server to accept multiple connection.
	// All clients share the same session.
	AcceptMulti bool

	// CheckLocalConnUser is true if the server should check that the user
	// connecting to a loopback listener is the same user that started it.
	CheckLocalConnUser bool

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
