// Package discovery advertises the hub on the local network over mDNS so
// firmware can reach it as smart-garden.local without a configured IP.
package discovery

import (
	"errors"
	"fmt"
	"net"

	"github.com/pion/mdns/v2"
	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Responder answers mDNS queries for the configured names
type Responder struct {
	conn *mdns.Conn
	lg   zerolog.Logger
}

// Start listens on the IPv4 and IPv6 mDNS groups. IPv6 is optional; hosts
// without it still answer over IPv4.
func Start(localName string, lg zerolog.Logger) (*Responder, error) {
	if localName == "" {
		return nil, errors.New("mdns: local name is required")
	}
	lg = lg.With().Str("component", "mdns").Logger()

	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("mdns: resolve udp4: %w", err)
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return nil, fmt.Errorf("mdns: listen udp4: %w", err)
	}

	var pc6 *ipv6.PacketConn
	if addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6); err == nil {
		if l6, err := net.ListenUDP("udp6", addr6); err == nil {
			pc6 = ipv6.NewPacketConn(l6)
		} else {
			lg.Warn().Err(err).Msg("ipv6 unavailable, advertising over ipv4 only")
		}
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), pc6, &mdns.Config{
		LocalNames: []string{localName},
	})
	if err != nil {
		l4.Close()
		if pc6 != nil {
			pc6.Close()
		}
		return nil, fmt.Errorf("mdns: start server: %w", err)
	}
	lg.Info().Str("name", localName).Msg("advertising")
	return &Responder{conn: conn, lg: lg}, nil
}

// Close stops answering queries
func (r *Responder) Close() error {
	r.lg.Info().Msg("stopped")
	return r.conn.Close()
}
