package stream

import (
	"crypto/tls"
	"net"
	"time"
)

var timeZero time.Time

func tlsClient(nc net.Conn, cfg *tls.Config) *tls.Conn {
	return tls.Client(nc, cfg)
}
