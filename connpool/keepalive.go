//go:build !windows
// +build !windows

package connpool

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/felixge/tcpkeepalive"
)

var noDeadline = time.Time{}

func deadlineIn(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// setKeepAlive arms kernel level keep-alive probing so half-open peers are
// detected even without application traffic.
func setKeepAlive(sock net.Conn) error {
	if tlsSock, ok := sock.(*tls.Conn); ok {
		sock = tlsSock.NetConn()
	}
	return tcpkeepalive.SetKeepAlive(sock, 30*time.Second, 4, 5*time.Second)
}
