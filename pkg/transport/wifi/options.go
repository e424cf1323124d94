package wifi

import (
	"net"

	"github.com/fako1024/decentscale/pkg/scale"
)

// WithHost sets the host name resolved by Discover()
func WithHost(host string) func(*Transport) {
	return func(t *Transport) {
		t.host = host
	}
}

// WithResolver sets the resolver used by Discover()
func WithResolver(resolver *net.Resolver) func(*Transport) {
	return func(t *Transport) {
		t.resolver = resolver
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}
