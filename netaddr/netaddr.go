// SPDX-FileCopyrightText: 2026 yhzhang0128
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package netaddr implements the canonical IPv4 network address used on the
// wire. A NetAddr is four bytes of IPv4 address followed by a two byte port,
// both in network byte order, six bytes in total.
package netaddr

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// EncodedLen is the length of a serialized NetAddr.
const EncodedLen = 6

// NetAddr is an IPv4 address together with a TCP port. The zero value is the
// null address, see IsNull.
type NetAddr struct {
	IP   [4]byte
	Port uint16
}

// NewNetAddrFromString parses a "host:port" pair into a NetAddr. The host
// must be a literal IPv4 address or a name resolving to one.
func NewNetAddrFromString(s string) (addr NetAddr, err error) {
	var host, portStr string
	if host, portStr, err = net.SplitHostPort(s); err != nil {
		return
	}

	ip := net.ParseIP(host)
	if ip == nil {
		var ips []net.IP
		if ips, err = net.LookupIP(host); err != nil {
			return
		} else if len(ips) == 0 {
			err = fmt.Errorf("netaddr: no address found for %s", host)
			return
		}
		ip = ips[0]
	}

	ip4 := ip.To4()
	if ip4 == nil {
		err = fmt.Errorf("netaddr: %s is not an IPv4 address", host)
		return
	}
	copy(addr.IP[:], ip4)

	var port int
	if port, err = strconv.Atoi(portStr); err != nil {
		return
	} else if port < 0 || port > 0xffff {
		err = fmt.Errorf("netaddr: port %d out of range", port)
		return
	}
	addr.Port = uint16(port)

	return
}

// MustNewNetAddrFromString is like NewNetAddrFromString and panics on error.
func MustNewNetAddrFromString(s string) NetAddr {
	addr, err := NewNetAddrFromString(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// NewNetAddrFromTCPAddr converts a net.TCPAddr into a NetAddr.
func NewNetAddrFromTCPAddr(tcpAddr *net.TCPAddr) (addr NetAddr, err error) {
	ip4 := tcpAddr.IP.To4()
	if ip4 == nil {
		err = fmt.Errorf("netaddr: %v is not an IPv4 address", tcpAddr.IP)
		return
	}

	copy(addr.IP[:], ip4)
	addr.Port = uint16(tcpAddr.Port)

	return
}

// IsNull reports whether this NetAddr is the null address, i.e., the zero
// value.
func (addr NetAddr) IsNull() bool {
	return addr == NetAddr{}
}

// Encode returns the six byte canonical encoding of this NetAddr.
func (addr NetAddr) Encode() []byte {
	buff := make([]byte, EncodedLen)
	copy(buff, addr.IP[:])
	binary.BigEndian.PutUint16(buff[4:], addr.Port)

	return buff
}

// Decode reads a NetAddr back from its six byte canonical encoding.
func (addr *NetAddr) Decode(buff []byte) error {
	if len(buff) < EncodedLen {
		return fmt.Errorf("netaddr: expected %d bytes, got %d", EncodedLen, len(buff))
	}

	copy(addr.IP[:], buff)
	addr.Port = binary.BigEndian.Uint16(buff[4:])

	return nil
}

func (addr NetAddr) String() string {
	if addr.IsNull() {
		return "<null>"
	}
	return fmt.Sprintf("%d.%d.%d.%d:%d",
		addr.IP[0], addr.IP[1], addr.IP[2], addr.IP[3], addr.Port)
}
