package rpc2

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/go-delve/memview/service"
	"github.com/go-delve/memview/service/api"
)

// RPCClient is a RPC service.Client.
type RPCClient struct {
	client *rpc.Client
}

// Ensure the implementation satisfies the interface.
var _ service.Client = &RPCClient{}

// NewClient creates a new RPCClient connected to addr.
func NewClient(addr string) (*RPCClient, error) {
	client, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &RPCClient{client: client}, nil
}

// NewClientFromConn creates a new RPCClient from the given connection.
func NewClientFromConn(conn net.Conn) *RPCClient {
	return &RPCClient{client: jsonrpc.NewClient(conn)}
}

func (c *RPCClient) ProcessPid() int {
	out := new(ProcessPidOut)
	c.call("ProcessPid", ProcessPidIn{}, out)
	return out.Pid
}

func (c *RPCClient) GetState() (*api.State, error) {
	var out StateOut
	err := c.call("State", StateIn{}, &out)
	return out.State, err
}

func (c *RPCClient) GetVersion() (*api.GetVersionOut, error) {
	var out api.GetVersionOut
	err := c.call("GetVersion", api.GetVersionIn{}, &out)
	return &out, err
}

func (c *RPCClient) Attach(pid int) error {
	var out AttachOut
	return c.call("Attach", AttachIn{Pid: pid}, &out)
}

func (c *RPCClient) Detach() error {
	var out DetachOut
	return c.call("Detach", DetachIn{}, &out)
}

func (c *RPCClient) CanRead(addr uint64) (bool, error) {
	var out CanReadOut
	err := c.call("CanRead", CanReadIn{Addr: addr}, &out)
	return out.Readable, err
}

func (c *RPCClient) ReadMemory(addr uint64, length int) (*api.ReadResult, error) {
	var out ReadMemoryOut
	if err := c.call("ReadMemory", ReadMemoryIn{Addr: addr, Length: length}, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

func (c *RPCClient) ListModules() ([]api.Module, error) {
	var out ListModulesOut
	err := c.call("ListModules", ListModulesIn{}, &out)
	return out.Modules, err
}

func (c *RPCClient) RefreshCache() error {
	var out RefreshCacheOut
	return c.call("RefreshCache", RefreshCacheIn{}, &out)
}

func (c *RPCClient) Disconnect(detach bool) error {
	if detach {
		if err := c.Detach(); err != nil {
			c.client.Close()
			return err
		}
	}
	return c.client.Close()
}

func (c *RPCClient) call(method string, args, reply interface{}) error {
	return c.client.Call("RPCServer."+method, args, reply)
}
