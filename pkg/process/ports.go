package process

import (
	"fmt"
	"net"
	"strconv"
)

// pickPort returns the explicit port when set, otherwise the first default
// port that can be bound on loopback, otherwise an OS-assigned port. The
// chosen port is released before the tool binds it; a tool that loses that
// race fails to start and is not retried.
func pickPort(explicit uint16, defaults []uint16) (uint16, error) {
	if explicit != 0 {
		return explicit, nil
	}
	for _, p := range defaults {
		if p != 0 && portFree(p) {
			return p, nil
		}
	}
	return ephemeralPort()
}

func portFree(port uint16) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

func ephemeralPort() (uint16, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocating port: %w", err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port), nil
}
