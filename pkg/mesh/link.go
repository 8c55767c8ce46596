package mesh

import (
	"bufio"
	"io"
	"net"
	"sync"

	"invpn-go/pkg/log"
	"invpn-go/pkg/protocol"
)

// sendQueueDepth bounds each link's outbound queue. On overflow the oldest
// queued frame is dropped so a stalled peer cannot pin memory.
const sendQueueDepth = 256

// Link is one authenticated full-duplex byte stream bound to a single peer.
// It holds the remote MAC, never the Peer itself; lookups go through the
// registry. Frames pushed onto a link are transmitted in order.
type Link struct {
	remote net.HardwareAddr
	conn   io.ReadWriteCloser

	sendq chan []byte
	done  chan struct{}

	closeOnce sync.Once
	startOnce sync.Once

	dropped uint64
	mu      sync.Mutex
}

func newLink(remote net.HardwareAddr, conn io.ReadWriteCloser) *Link {
	return &Link{
		remote: append(net.HardwareAddr(nil), remote...),
		conn:   conn,
		sendq:  make(chan []byte, sendQueueDepth),
		done:   make(chan struct{}),
	}
}

// RemoteMAC returns the authenticated identity at the far end.
func (l *Link) RemoteMAC() net.HardwareAddr { return l.remote }

// Push enqueues an encoded frame for transmission. If the queue is full the
// oldest frame is discarded to make room.
func (l *Link) Push(frame []byte) {
	select {
	case l.sendq <- frame:
		return
	default:
	}
	l.mu.Lock()
	select {
	case <-l.sendq:
		l.dropped++
	default:
	}
	l.mu.Unlock()
	select {
	case l.sendq <- frame:
	default:
	}
}

// Dropped returns how many egress frames overflowed the queue.
func (l *Link) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close tears down the stream. Pending egress is discarded.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
	})
	return err
}

// start launches the reader and writer pumps. The controller calls this only
// after the link has been attached to its peer; nothing is read from the
// connection before then, and a link that is never started posts no events.
func (l *Link) start(events chan<- event) {
	l.startOnce.Do(func() {
		go l.readLoop(events)
		go l.writeLoop()
	})
}

func (l *Link) readLoop(events chan<- event) {
	r := bufio.NewReaderSize(l.conn, protocol.MaxFrameSize+2)
	for {
		kind, payload, err := protocol.Decode(r)
		if err != nil {
			select {
			case <-l.done:
			default:
				log.Info().Str("peer", l.remote.String()).Err(err).Msg("link read failed")
			}
			l.Close()
			events <- event{kind: evLinkDown, link: l}
			return
		}
		events <- event{kind: evFrameRx, link: l, frameKind: kind, payload: payload}
	}
}

func (l *Link) writeLoop() {
	for {
		select {
		case frame := <-l.sendq:
			if _, err := l.conn.Write(frame); err != nil {
				select {
				case <-l.done:
				default:
					log.Info().Str("peer", l.remote.String()).Err(err).Msg("link write failed")
				}
				l.Close()
				return
			}
		case <-l.done:
			return
		}
	}
}
