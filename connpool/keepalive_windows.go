//go:build windows
// +build windows

package connpool

import (
	"net"
	"time"
)

var noDeadline = time.Time{}

func deadlineIn(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// setKeepAlive is a no-op on Windows, where the tcpkeepalive package is not
// available.
func setKeepAlive(net.Conn) error {
	return nil
}
