//go:build linux || freebsd || darwin

package eio

import (
	"net"

	"golang.org/x/sys/unix"
)

func GetSockAddr(addr Address) (sa unix.Sockaddr, isIpv6 bool, err error) {
	if addr.Network == NetworkUNIX {
		sa = &unix.SockaddrUnix{
			Name: addr.Address,
		}
		return
	}

	var ta *net.TCPAddr
	ta, err = net.ResolveTCPAddr(addr.Network, addr.Address)
	if err != nil {
		return
	}
	if ta.IP.To4() != nil && addr.Network != NetworkTCP6 {
		sa4 := &unix.SockaddrInet4{
			Port: ta.Port,
		}
		copy(sa4.Addr[:], ta.IP.To4())
		sa = sa4
	} else {
		isIpv6 = true
		sa6 := &unix.SockaddrInet6{
			Port: ta.Port,
		}
		copy(sa6.Addr[:], ta.IP.To16())
		sa = sa6
	}

	return
}

// SockaddrToString converts a unix.Sockaddr into a net.Addr. Inet addresses
// map to *net.TCPAddr, unix domain sockets to *net.UnixAddr.
func SockaddrToString(sa unix.Sockaddr) net.Addr {
	if sa == nil {
		return nil
	}

	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   sa.Addr[:],
			Port: int(sa.Port),
		}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{
			IP:   sa.Addr[:],
			Port: int(sa.Port),
		}
	case *unix.SockaddrUnix:
		return &net.UnixAddr{
			Net:  "unix",
			Name: sa.Name,
		}
	default:
		return nil
	}
}
