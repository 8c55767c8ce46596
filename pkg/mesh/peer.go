package mesh

import (
	"net"
	"sync"
)

// Peer is a known remote identity. Peers are created on the first successful
// handshake with their MAC and persist for the life of the process; the link
// comes and goes.
type Peer struct {
	mac net.HardwareAddr

	mu   sync.RWMutex
	link *Link
}

// MAC returns the peer's layer-2 identity.
func (p *Peer) MAC() net.HardwareAddr { return p.mac }

// Link returns the currently attached link, or nil.
func (p *Peer) Link() *Link {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.link
}

// IsLinked reports whether the peer has a live link.
func (p *Peer) IsLinked() bool { return p.Link() != nil }

func (p *Peer) attach(l *Link) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link != nil {
		return false
	}
	p.link = l
	return true
}

// detach clears the link only if it is still the one that went down; a
// replacement attached in the meantime survives.
func (p *Peer) detach(l *Link) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link != l {
		return false
	}
	p.link = nil
	return true
}

// Registry is the set of all peers ever seen, keyed by MAC. It is mutated
// only from the controller loop; the read lock lets the management API take
// snapshots.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// GetOrCreate returns the peer for mac, creating it on first sight.
func (r *Registry) GetOrCreate(mac net.HardwareAddr) *Peer {
	key := mac.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[key]; ok {
		return p
	}
	p := &Peer{mac: append(net.HardwareAddr(nil), mac...)}
	r.peers[key] = p
	return p
}

// Get returns the peer for mac if it exists.
func (r *Registry) Get(mac net.HardwareAddr) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[mac.String()]
	return p, ok
}

// AttachLink binds l to the peer for mac. It fails if the peer already has a
// live link, in which case the caller must close the duplicate.
func (r *Registry) AttachLink(mac net.HardwareAddr, l *Link) (*Peer, bool) {
	p := r.GetOrCreate(mac)
	return p, p.attach(l)
}

// DetachLink clears the peer's link if l is still the attached one.
func (r *Registry) DetachLink(mac net.HardwareAddr, l *Link) bool {
	p, ok := r.Get(mac)
	if !ok {
		return false
	}
	return p.detach(l)
}

// Linked returns every peer with a live link, the flood fan-out set.
func (r *Registry) Linked() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	linked := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.IsLinked() {
			linked = append(linked, p)
		}
	}
	return linked
}

// LinkedCount counts peers with a live link.
func (r *Registry) LinkedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.peers {
		if p.IsLinked() {
			n++
		}
	}
	return n
}

// All returns every known peer.
func (r *Registry) All() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}
