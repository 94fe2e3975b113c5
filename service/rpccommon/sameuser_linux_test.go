//go:build linux
// +build linux

package rpccommon

import (
	"net"
	"testing"
)

func TestSameUserForRemoteAddr(t *testing.T) {
	olduid, oldReadFile := uid, readFile
	defer func() {
		uid, readFile = olduid, oldReadFile
	}()
	uid = 149098
	var proc string
	readFile = func(string) ([]byte, error) {
		return []byte(proc), nil
	}
	for _, tt := range []struct {
		name string
		proc string
		addr *net.TCPAddr
		want bool
	}{
		{
			name: "ipv4-same",
			proc: `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
  21: 0100007F:E682 0100007F:0FC8 01 00000000:00000000 00:00000000 00000000 149098        0 8420541 2 0000000000000000 20 0 0 10 -1                  `,
			addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 59010},
			want: true,
		},
		{
			name: "ipv4-not-found",
			proc: `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
  21: 0100007F:E682 0100007F:0FC8 01 00000000:00000000 00:00000000 00000000 149098        0 8420541 2 0000000000000000 20 0 0 10 -1                  `,
			addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2342},
			want: false,
		},
		{
			name: "ipv4-different-uid",
			proc: `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
  21: 0100007F:E682 0100007F:0FC8 01 00000000:00000000 00:00000000 00000000 149097        0 8420541 2 0000000000000000 20 0 0 10 -1                  `,
			addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 59010},
			want: false,
		},
		{
			name: "ipv6-same",
			proc: `  sl  local_address                         remote_address                        st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   5: 00000000000000000000000001000000:D3E4 00000000000000000000000001000000:0FC8 01 00000000:00000000 00:00000000 00000000 149098        0 8425526 2 0000000000000000 20 0 0 10 -1
   6: 00000000000000000000000001000000:0FC8 00000000000000000000000001000000:D3E4 01 00000000:00000000 00:00000000 00000000 149098        0 8424744 1 0000000000000000 20 0 0 10 -1`,
			addr: &net.TCPAddr{IP: net.ParseIP("::1"), Port: 54244},
			want: true,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			proc = tt.proc
			// The returned error is for reporting only.
			same, _ := sameUserForRemoteAddr(tt.addr)
			if got, want := same, tt.want; got != want {
				t.Errorf("sameUserForRemoteAddr(%v) = %v, want %v", tt.addr, got, want)
			}
		})
	}
}

func TestCanAcceptNonLoopback(t *testing.T) {
	laddr := &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 4040}
	if !canAccept(laddr, &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 1}) {
		t.Fatal("connections to non loopback listeners should always be accepted")
	}
	if !canAccept(&net.UnixAddr{Name: "/tmp/sock", Net: "unix"}, nil) {
		t.Fatal("connections to unix sockets should always be accepted")
	}
}

func TestHexSocketAddr(t *testing.T) {
	for _, tt := range []struct {
		ip   net.IP
		port int
		want string
	}{
		{net.ParseIP("127.0.0.1").To4(), 59010, "0100007F:E682"},
		{net.ParseIP("127.0.0.1").To16(), 59010, "0000000000000000FFFF00000100007F:E682"},
		{net.ParseIP("::1"), 54244, "00000000000000000000000001000000:D3E4"},
	} {
		if got := hexSocketAddr(tt.ip, tt.port); got != tt.want {
			t.Errorf("hexSocketAddr(%v, %d) = %q, want %q", tt.ip, tt.port, got, tt.want)
		}
	}
}
