package vcs

import (
	"fmt"
	"time"
)

const (
	TransportHTTP = "http"
	TransportRPC  = "rpc"
)

// Options selects and configures a Connector.
type Options struct {
	URL       string
	Transport string
	Username  string
	Password  string
	// Timeout bounds each HTTP request (http) or each dial (rpc). Zero keeps
	// the connector default.
	Timeout time.Duration
	// ProtoJSON switches the rpc transport to JSON-encoded messages.
	ProtoJSON bool
}

// NewConnector returns the connector for o.Transport.
func NewConnector(o Options) (Connector, error) {
	switch o.Transport {
	case "", TransportHTTP:
		c := NewHTTPConnector(o.URL, o.Username, o.Password)
		if o.Timeout > 0 {
			c.Timeout = o.Timeout
		}
		return c, nil
	case TransportRPC:
		c := NewRPCConnector(o.URL, o.Username, o.Password)
		if o.Timeout > 0 {
			c.DialTimeout = o.Timeout
		}
		c.UseJSON = o.ProtoJSON
		return c, nil
	}
	return nil, fmt.Errorf("unknown transport %q (expected http or rpc)", o.Transport)
}
