package session

import (
	"fmt"
	"net"
)

// AllocatePort picks an unused TCP port from the ephemeral range by binding
// to port 0, reading back the OS-assigned port, and releasing the listener
// (spec.md section 4.6.1, step 1). Two concurrent allocations can
// theoretically race and collide once both listeners are closed; spec.md
// section 5 documents this as an accepted risk given the ephemeral range
// size.
func AllocatePort() (uint16, error) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("session: allocate port: %w", err)
	}
	defer ln.Close()

	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("session: allocate port: unexpected listener address type %T", ln.Addr())
	}
	return uint16(addr.Port), nil
}

// portBound reports whether port is already bound on the local host.
// The coordinator polls this every PollInterval to detect the
// CHILD_SPAWNED -> PORT_BOUND transition (spec.md section 4.6.1, step 4):
// once the benchmark child has bound the port, a new listen attempt fails.
func portBound(port uint16) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return true
	}
	ln.Close()
	return false
}
