// pkg/archiveclient/client.go

// Package archiveclient pushes files into a running archive server.
package archiveclient

import (
	"net"
	"net/http"
	"time"
)

// uploads can be large; the deadline covers the whole transfer
var defaultClient = &http.Client{
	Timeout: 10 * time.Minute,
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 2 * time.Minute,
	},
}

// DefaultClient returns the client Upload uses when given nil.
func DefaultClient() *http.Client {
	return defaultClient
}
