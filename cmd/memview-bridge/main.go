// Command memview-bridge is built with -buildmode=c-shared and exports the
// memview call surface to host tools:
//
//	uint32_t yc_attach(uint32_t pid);
//	uint32_t yc_read(uintptr_t address, uint8_t *buffer, uintptr_t length);
//	bool     yc_can_read(uintptr_t address);
//	void     yc_detach(void);
//	uint32_t yc_refresh(void);
//	uint32_t yc_last_status(void);
//
// yc_last_status returns the status of the most recent call made by any
// thread of the host, so a host that calls yc_can_read from several threads
// must hold its own lock across yc_can_read and yc_last_status.
//
// The backend is created from the memview configuration file on the first
// call. Set MEMVIEW_LOG to a comma separated list of log layers to enable
// logging, MEMVIEW_LOG_DEST to redirect it.
package main

// #include <stdint.h>
// #include <stdbool.h>
import "C"

import (
	"unsafe"

	"github.com/go-delve/memview/pkg/bridge"
)

//export yc_attach
func yc_attach(pid C.uint32_t) C.uint32_t {
	return C.uint32_t(bridge.Default().Attach(uint32(pid)))
}

//export yc_read
func yc_read(address C.uintptr_t, buffer *C.uint8_t, length C.uintptr_t) C.uint32_t {
	b := bridge.Default()
	buf, ok := span(unsafe.Pointer(buffer), uintptr(length))
	if !ok {
		return C.uint32_t(b.InvalidArgument())
	}
	return C.uint32_t(b.Read(uintptr(address), buf))
}

//export yc_can_read
func yc_can_read(address C.uintptr_t) C.bool {
	return C.bool(bridge.Default().CanRead(uintptr(address)))
}

//export yc_detach
func yc_detach() {
	bridge.Default().Detach()
}

//export yc_refresh
func yc_refresh() C.uint32_t {
	return C.uint32_t(bridge.Default().Refresh())
}

//export yc_last_status
func yc_last_status() C.uint32_t {
	return C.uint32_t(bridge.Default().LastStatus())
}

func main() {}
