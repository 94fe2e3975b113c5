// Package api contains the types exchanged between the memview headless
// server and its clients.
package api

// State is the state of the session served by a headless server.
type State struct {
	// Attached is true if a process is attached.
	Attached bool `json:"attached"`
	// Pid is the pid of the attached process.
	Pid int `json:"pid,omitempty"`
	// CacheLoaded is true if the address cache has been populated since
	// the last detach.
	CacheLoaded bool `json:"cacheLoaded"`
	// Backend is the name of the OS backend.
	Backend string `json:"backend"`
}

// Module is a module loaded in the attached process.
type Module struct {
	Name string `json:"name"`
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

// ReadResult is the result of a memory read. A failed read is not an RPC
// error: Status is set to the same code the bridge would return and Mem
// holds the bytes read, zero filled.
type ReadResult struct {
	Mem    []byte `json:"mem"`
	N      int    `json:"n"`
	Status uint32 `json:"status"`
	Error  string `json:"error,omitempty"`
}

// GetVersionIn is the argument of GetVersion.
type GetVersionIn struct {
}

// GetVersionOut is the result of GetVersion.
type GetVersionOut struct {
	MemviewVersion string
	APIVersion     int
	Backend        string
}
