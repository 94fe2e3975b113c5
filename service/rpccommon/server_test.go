package rpccommon_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/memview/pkg/backend"
	"github.com/go-delve/memview/pkg/backend/backendtest"
	"github.com/go-delve/memview/pkg/bridge"
	"github.com/go-delve/memview/pkg/version"
	"github.com/go-delve/memview/service"
	"github.com/go-delve/memview/service/rpc2"
	"github.com/go-delve/memview/service/rpccommon"
)

func startServer(t *testing.T, attachPid int) (*rpc2.RPCClient, *rpccommon.ServerImpl, *backendtest.Process, chan struct{}) {
	t.Helper()
	o := backendtest.NewOS()
	p := o.AddProcess(42, backend.ModuleInfo{Name: "main", Base: 0x2000, Size: 0x100})
	p.Map(0x2000, []byte("hello, world"))
	p.Deny(0x4000, 0x10)

	listener, clientConn := service.ListenerPipe()
	disconnectChan := make(chan struct{})
	server := rpccommon.NewServer(&service.Config{
		Listener:       listener,
		OS:             o,
		AttachPid:      attachPid,
		DisconnectChan: disconnectChan,
	})
	require.NoError(t, server.Run())
	return rpc2.NewClientFromConn(clientConn), server, p, disconnectChan
}

func TestClientServer(t *testing.T) {
	client, server, p, disconnectChan := startServer(t, 0)
	defer server.Stop()

	v, err := client.GetVersion()
	require.NoError(t, err)
	require.Equal(t, version.MemviewVersion.String(), v.MemviewVersion)
	require.Equal(t, version.APIVersion, v.APIVersion)
	require.Equal(t, backendtest.Name, v.Backend)

	require.Equal(t, 0, client.ProcessPid())
	_, err = client.CanRead(0x2000)
	require.Error(t, err)

	require.Error(t, client.Attach(7))
	require.NoError(t, client.Attach(42))
	require.Equal(t, 42, client.ProcessPid())

	state, err := client.GetState()
	require.NoError(t, err)
	require.True(t, state.Attached)
	require.False(t, state.CacheLoaded)

	ok, err := client.CanRead(0x2100)
	require.NoError(t, err)
	require.True(t, ok, "end of module is readable")
	ok, err = client.CanRead(0x2101)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, p.ModuleListCalls())

	res, err := client.ReadMemory(0x2000, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(bridge.StatusOK), res.Status)
	require.Equal(t, "hello", string(res.Mem))
	require.Equal(t, 5, res.N)

	res, err = client.ReadMemory(0x200a, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(bridge.StatusPartialRead), res.Status)
	require.Equal(t, 2, res.N)
	require.Equal(t, []byte("ld\x00\x00\x00"), res.Mem)
	require.NotEmpty(t, res.Error)

	res, err = client.ReadMemory(0x4000, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(bridge.StatusAccessDenied), res.Status)

	_, err = client.ReadMemory(0x2000, -1)
	require.Error(t, err)

	mods, err := client.ListModules()
	require.NoError(t, err)
	require.Len(t, mods, 1)
	require.Equal(t, "main", mods[0].Name)
	require.Equal(t, uint64(0x2000), mods[0].Base)

	p.SetModules(backend.ModuleInfo{Name: "other", Base: 0x8000, Size: 0x10})
	ok, err = client.CanRead(0x8000)
	require.NoError(t, err)
	require.False(t, ok, "cache is not refreshed implicitly")
	require.NoError(t, client.RefreshCache())
	ok, err = client.CanRead(0x8000)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, client.Disconnect(true))
	select {
	case <-disconnectChan:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not notice the client disconnecting")
	}
	require.False(t, server.Session().Attached())
}

func TestAttachOnStart(t *testing.T) {
	client, server, _, _ := startServer(t, 42)
	defer server.Stop()
	require.Equal(t, 42, client.ProcessPid())
	require.NoError(t, client.Disconnect(false))
}
