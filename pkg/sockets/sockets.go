// Package sockets sets up the engine's listening sockets: a SOCK_STREAM
// socket with CLOEXEC and NONBLOCK, preferring SO_REUSEPORT over
// SO_REUSEADDR, bound and listening with a configured backlog. Go's
// net.Listen does not expose backlog control or a SO_REUSEPORT option, so
// this package drives the syscalls directly via golang.org/x/sys/unix
// (the pack's nabbar-golib and nishisan-dev-n-backup both carry x/sys as
// a dependency, though neither uses the unix subpackage for this purpose)
// and hands the resulting file descriptor to net.FileListener so the
// rest of the engine still works with ordinary net.Conn values.
//
// SO_REUSEPORT_LB, a FreeBSD load-balanced variant of SO_REUSEPORT with a
// distinct socket-option value, is skipped: it is not defined by
// x/sys/unix outside a freebsd build, and plain SO_REUSEPORT already
// covers every target this engine builds for (linux, darwin) identically.
package sockets

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listen opens a listening socket on addr (host:port) with the given
// backlog, preferring SO_REUSEPORT so multiple workers can each own an
// independent listener bound to the same address without sharing state.
func Listen(addr string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}

	domain := unix.AF_INET
	if tcpAddr.IP == nil || tcpAddr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	closeOnError := true
	defer func() {
		if closeOnError {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return nil, fmt.Errorf("setsockopt SO_REUSEADDR fallback: %w", err)
		}
	}

	sa, err := sockaddr(domain, tcpAddr)
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return nil, fmt.Errorf("listen backlog=%d: %w", backlog, err)
	}

	f := os.NewFile(uintptr(fd), "rawserver-listener")
	ln, err := net.FileListener(f)
	// net.FileListener dup()s the fd internally; f (and thus fd) must be
	// closed regardless of outcome once it returns.
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("net.FileListener: %w", err)
	}

	closeOnError = false
	return ln, nil
}

func sockaddr(domain int, addr *net.TCPAddr) (unix.Sockaddr, error) {
	if domain == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if addr.IP != nil {
		ip4 := addr.IP.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("address %s is not a valid IPv4 address", addr.IP)
		}
		copy(sa.Addr[:], ip4)
	}
	return sa, nil
}
