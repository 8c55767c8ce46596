package mesh

import (
	"net"
	"sync"
	"time"
)

// RouteTable maps remote MACs to the peer they were last announced through.
// An announce is accepted only if its stamp is strictly newer than the stored
// one; equal or older stamps are stale. That single rule is both the
// freshness tie-breaker and the announce loop suppressor.
type RouteTable struct {
	mu     sync.RWMutex
	routes map[string]*routeEntry
}

type routeEntry struct {
	peer    *Peer
	stamp   int64
	updated time.Time
}

// RouteInfo is a read-only snapshot row for the management API.
type RouteInfo struct {
	Dst     string    `json:"dst"`
	NextHop string    `json:"next_hop"`
	Stamp   int64     `json:"stamp"`
	Linked  bool      `json:"linked"`
	Updated time.Time `json:"updated"`
}

func NewRouteTable() *RouteTable {
	return &RouteTable{routes: make(map[string]*routeEntry)}
}

// Observe records an announce for origin seen through via. It returns true
// if the stamp was strictly newer and the route was updated; false means the
// announce is stale and must not be re-flooded.
func (t *RouteTable) Observe(origin net.HardwareAddr, via *Peer, stamp int64) bool {
	key := origin.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.routes[key]; ok {
		if e.stamp >= stamp {
			return false
		}
		e.peer = via
		e.stamp = stamp
		e.updated = time.Now()
		return true
	}
	t.routes[key] = &routeEntry{peer: via, stamp: stamp, updated: time.Now()}
	return true
}

// Lookup returns the next-hop peer for dst, or nil if no route is known.
// Liveness of the peer's link is the caller's forwarding-time concern.
func (t *RouteTable) Lookup(dst net.HardwareAddr) *Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.routes[dst.String()]; ok {
		return e.peer
	}
	return nil
}

// Stamp returns the stored stamp for dst, with ok=false if unknown.
func (t *RouteTable) Stamp(dst net.HardwareAddr) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.routes[dst.String()]; ok {
		return e.stamp, true
	}
	return 0, false
}

// Len returns the number of known destinations.
func (t *RouteTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Snapshot returns a copy of the table for inspection.
func (t *RouteTable) Snapshot() []RouteInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	infos := make([]RouteInfo, 0, len(t.routes))
	for dst, e := range t.routes {
		infos = append(infos, RouteInfo{
			Dst:     dst,
			NextHop: e.peer.MAC().String(),
			Stamp:   e.stamp,
			Linked:  e.peer.IsLinked(),
			Updated: e.updated,
		})
	}
	return infos
}
