package mesh

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"invpn-go/pkg/identity"
	"invpn-go/pkg/log"
)

const handshakeTimeout = 10 * time.Second

// Listener accepts inbound TLS connections, completes the mutual handshake
// and hands authenticated links to the controller event loop.
type Listener struct {
	ln     net.Listener
	id     *identity.Identity
	events chan<- event
	done   chan struct{}
}

func newListener(id *identity.Identity, port int, events chan<- event) (*Listener, error) {
	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", port), id.ServerConfig())
	if err != nil {
		return nil, fmt.Errorf("mesh: failed to listen on port %d: %w", port, err)
	}
	return &Listener{ln: ln, id: id, events: events, done: make(chan struct{})}, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) run() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			log.Info().Err(err).Msg("accept failed")
			continue
		}
		go l.handshake(conn.(*tls.Conn))
	}
}

// handshake drives the server-side TLS handshake off the accept loop so a
// slow client cannot stall other connections.
func (l *Listener) handshake(conn *tls.Conn) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.Handshake(); err != nil {
		log.Info().Str("remote", conn.RemoteAddr().String()).Err(err).Msg("inbound handshake failed")
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	mac, err := identity.PeerMAC(conn.ConnectionState())
	if err != nil {
		log.Info().Str("remote", conn.RemoteAddr().String()).Err(err).Msg("inbound peer identity rejected")
		conn.Close()
		return
	}

	select {
	case l.events <- event{kind: evLinkUp, link: newLink(mac, conn)}:
	case <-l.done:
		conn.Close()
	}
}

func (l *Listener) close() error {
	close(l.done)
	return l.ln.Close()
}

// dialSeed initiates the outbound TLS connection to a seed, pinning the
// expected certificate CN to the seed MAC. On success the authenticated link
// is posted to the event loop; on failure the reconnect timer retries later.
func dialSeed(id *identity.Identity, seed *Seed, events chan<- event, done <-chan struct{}) {
	dialer := &net.Dialer{Timeout: handshakeTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", seed.Addr, id.ClientConfig(seed.MAC))
	if err != nil {
		log.Info().Str("seed", seed.Addr).Err(err).Msg("seed dial failed")
		return
	}

	mac, err := identity.PeerMAC(conn.ConnectionState())
	if err != nil {
		log.Info().Str("seed", seed.Addr).Err(err).Msg("seed identity rejected")
		conn.Close()
		return
	}

	select {
	case events <- event{kind: evLinkUp, link: newLink(mac, conn)}:
	case <-done:
		conn.Close()
	}
}
