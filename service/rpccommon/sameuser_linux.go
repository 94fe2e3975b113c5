//go:build linux
// +build linux

package rpccommon

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/go-delve/memview/pkg/logflags"
)

// for testing
var (
	uid      = os.Getuid()
	readFile = ioutil.ReadFile
)

type errConnectionNotFound struct {
	filename string
}

func (e *errConnectionNotFound) Error() string {
	return fmt.Sprintf("connection not found in %s", e.filename)
}

// socketOwner returns the uid owning the socket bound to hexaddr, as listed
// in a /proc/net/tcp style table.
func socketOwner(filename, hexaddr string) (int, error) {
	b, err := readFile(filename)
	if err != nil {
		return -1, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		// sl local_address rem_address st tx_queue:rx_queue tr:tm->when retrnsmt uid ...
		fields := strings.Fields(line)
		if len(fields) < 8 || !strings.HasSuffix(fields[0], ":") || fields[1] != hexaddr {
			continue
		}
		owner, err := strconv.Atoi(fields[7])
		if err != nil {
			return -1, fmt.Errorf("malformed line in %s: %q", filename, line)
		}
		return owner, nil
	}
	return -1, &errConnectionNotFound{filename}
}

// hexSocketAddr formats addr the way the kernel prints it: the address as
// native endian 32bit words followed by the port.
func hexSocketAddr(ip net.IP, port int) string {
	var sb strings.Builder
	for i := 0; i < len(ip); i += 4 {
		fmt.Fprintf(&sb, "%08X", binary.LittleEndian.Uint32(ip[i:i+4]))
	}
	fmt.Fprintf(&sb, ":%04X", port)
	return sb.String()
}

func sameUserForRemoteAddr(remoteAddr *net.TCPAddr) (bool, error) {
	var owner int
	var err error
	if ip4 := remoteAddr.IP.To4(); ip4 != nil {
		owner, err = socketOwner("/proc/net/tcp", hexSocketAddr(ip4, remoteAddr.Port))
		if _, notFound := err.(*errConnectionNotFound); notFound {
			// dual stack sockets list ipv4 peers as mapped ipv6 addresses
			owner, err = socketOwner("/proc/net/tcp6", hexSocketAddr(ip4.To16(), remoteAddr.Port))
		}
	} else {
		owner, err = socketOwner("/proc/net/tcp6", hexSocketAddr(remoteAddr.IP.To16(), remoteAddr.Port))
	}
	if err != nil {
		return false, err
	}
	return owner == uid, nil
}

// canAccept rejects connections to a loopback listener coming from a
// different user. Memory of the attached process is readable through the
// API so any local user could otherwise read it.
func canAccept(listenAddr, remoteAddr net.Addr) bool {
	laddr, ok := listenAddr.(*net.TCPAddr)
	if !ok || !laddr.IP.IsLoopback() {
		return true
	}
	addr, ok := remoteAddr.(*net.TCPAddr)
	if !ok {
		return false
	}
	same, err := sameUserForRemoteAddr(addr)
	if err != nil {
		logflags.RPCLogger().Warnf("cannot check remote address: %v", err)
	}
	if !same {
		if logflags.Any() {
			logflags.RPCLogger().Errorf("closing connection from different user (%v): connections to localhost are only accepted from the same UNIX user", addr)
		} else {
			fmt.Fprintf(os.Stderr, "closing connection from different user (%v): connections to localhost are only accepted from the same UNIX user\n", addr)
		}
		return false
	}
	return true
}
