package security

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"
)

// GuardedDialer returns a dialer that refuses to connect to blocked
// addresses. The check runs after resolution, on the address actually dialed.
func GuardedDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("dial guard: %w", err)
			}
			if IsBlockedAddr(addr) {
				return fmt.Errorf("dial guard: refusing to connect to %s", addr)
			}
			return nil
		},
	}
}
