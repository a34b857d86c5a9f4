package tftp

import (
	"net"
	"strings"

	"github.com/sirupsen/logrus"
)

// candidateNetworks lists the UDP address families tried in order when
// resolving host+port. Servers commonly advertise both an A and an AAAA
// record; trying "udp" first lets the resolver and OS pick whichever the
// platform prefers, then we fall back to forcing each family explicitly so
// a host with only one family enabled still succeeds.
var candidateNetworks = []string{"udp", "udp4", "udp6"}

// BindSocket resolves host:port across IPv4 and IPv6 and binds the first
// UDP socket that can actually be created, mirroring the historical
// tftp_socket(): try every candidate, skip address-family/protocol errors,
// and give up with ErrUnreachable only once none work.
//
// On success, conn and the resolved peer address (the session's initial
// transfer-ID guess, the well-known port 69 or whatever was given) are
// stored on the session.
func (s *Session) BindSocket(log *logrus.Entry) error {
	seen := map[string]bool{}
	var lastErr error

	for _, network := range candidateNetworks {
		addr, err := net.ResolveUDPAddr(network, net.JoinHostPort(s.host, s.port))
		if err != nil {
			lastErr = err
			continue
		}
		key := addr.String() + "/" + network
		if seen[key] {
			continue
		}
		seen[key] = true

		conn, err := net.ListenUDP(network, nil)
		if err != nil {
			if isUnsupportedFamily(err) {
				log.WithError(err).Debug("address family unsupported, trying next candidate")
				continue
			}
			log.WithError(err).Warn("socket creation failed, trying next candidate")
			lastErr = err
			continue
		}

		s.conn = conn
		s.peerAddr = addr
		log.WithField("peer", addr.String()).Debug("bound socket to first candidate")
		return nil
	}

	if lastErr != nil {
		log.WithError(lastErr).Debug("no address candidate was reachable")
	}
	return ErrUnreachable
}

// isUnsupportedFamily reports whether err looks like "address family not
// supported" or "protocol not supported", the two errno values the
// reference implementation explicitly tolerates while iterating
// getaddrinfo() candidates, or like "cannot assign requested address",
// which is treated the same way.
func isUnsupportedFamily(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "address family not supported") ||
		strings.Contains(msg, "protocol not supported") ||
		strings.Contains(msg, "cannot assign requested address")
}

// Close releases the session's socket and local file, in that order. Safe
// to call multiple times.
func (s *Session) Close() error {
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.localFile != nil {
		if cerr := s.localFile.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.localFile = nil
	}
	return err
}
