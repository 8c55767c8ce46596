// Package mesh implements the invpn overlay: a set of mutually-authenticated
// TLS links over which ethernet frames read from the local TAP device are
// announced, routed and flooded. All shared state (peer registry, route
// table, broadcast suppression, timers) is owned by a single controller
// goroutine fed by a tagged event channel; links, the TAP pump, the listener
// and the dialer only post events.
package mesh

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"invpn-go/pkg/identity"
	"invpn-go/pkg/log"
	"invpn-go/pkg/protocol"
	"invpn-go/pkg/tuntap"
)

type eventKind int

const (
	evLinkUp eventKind = iota
	evLinkDown
	evFrameRx
	evTapRx
	evAnnounceTick
	evReconnectTick
)

type event struct {
	kind      eventKind
	link      *Link
	frameKind protocol.Kind
	payload   []byte
	tap       tuntap.Frame
}

// Stats counts controller activity for the management API.
type Stats struct {
	FramesSent        atomic.Uint64
	FramesReceived    atomic.Uint64
	FramesDropped     atomic.Uint64
	AnnouncesAccepted atomic.Uint64
	BroadcastsFlooded atomic.Uint64
}

// StatsSnapshot is the JSON form of Stats.
type StatsSnapshot struct {
	FramesSent        uint64 `json:"frames_sent"`
	FramesReceived    uint64 `json:"frames_received"`
	FramesDropped     uint64 `json:"frames_dropped"`
	AnnouncesAccepted uint64 `json:"announces_accepted"`
	BroadcastsFlooded uint64 `json:"broadcasts_flooded"`
}

// Mesh is the controller orchestrating the TAP endpoint, the peer links and
// the routing state.
type Mesh struct {
	cfg *Config
	id  *identity.Identity
	mac net.HardwareAddr

	tap      tuntap.Endpoint
	registry *Registry
	routes   *RouteTable
	dedup    *dedupCache
	listener *Listener
	seed     *Seed

	events chan event

	// bcLastID backs broadcastID and is touched only from the controller
	// loop.
	bcLastID int64

	stats   Stats
	started time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New loads the node identity, opens the TAP device and binds the listener.
// Errors here are initialization fatals for the caller.
func New(cfg *Config) (*Mesh, error) {
	id, err := identity.Load(cfg.KeyPath, cfg.CertPath, cfg.CAPath)
	if err != nil {
		return nil, err
	}

	m := newMesh(id.MAC, nil, cfg)
	m.id = id

	if cfg.Seed != "" {
		seed, err := ParseSeed(cfg.Seed)
		if err != nil {
			return nil, err
		}
		m.seed = seed
	}

	ln, err := newListener(id, cfg.Port, m.events)
	if err != nil {
		return nil, err
	}
	m.listener = ln

	tap, err := tuntap.New(cfg.TapName, id.MAC)
	if err != nil {
		ln.close()
		return nil, err
	}
	m.tap = tap
	log.Info().Str("iface", tap.Name()).Str("mac", id.MAC.String()).Msg("node ready")
	return m, nil
}

// newMesh wires the controller state without touching the network or the
// kernel; New and the tests both build on it.
func newMesh(mac net.HardwareAddr, tap tuntap.Endpoint, cfg *Config) *Mesh {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mesh{
		cfg:      cfg,
		mac:      append(net.HardwareAddr(nil), mac...),
		tap:      tap,
		registry: NewRegistry(),
		routes:   NewRouteTable(),
		dedup:    newDedupCache(dedupCapacity),
		events:   make(chan event, 512),
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// MAC returns the local identity.
func (m *Mesh) MAC() net.HardwareAddr { return m.mac }

// Uptime reports how long the controller has been running.
func (m *Mesh) Uptime() time.Duration { return time.Since(m.started) }

// Registry exposes the peer set for inspection.
func (m *Mesh) Registry() *Registry { return m.registry }

// Routes exposes the route table for inspection.
func (m *Mesh) Routes() *RouteTable { return m.routes }

// StatsSnapshot copies the counters.
func (m *Mesh) StatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:        m.stats.FramesSent.Load(),
		FramesReceived:    m.stats.FramesReceived.Load(),
		FramesDropped:     m.stats.FramesDropped.Load(),
		AnnouncesAccepted: m.stats.AnnouncesAccepted.Load(),
		BroadcastsFlooded: m.stats.BroadcastsFlooded.Load(),
	}
}

// Run starts the listener, the TAP pump and the controller loop, dials the
// seed once immediately, and blocks until ctx is done or Close is called.
func (m *Mesh) Run() {
	if m.listener != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.listener.run()
		}()
	}
	if m.tap != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.tapPump()
		}()
	}
	if m.seed != nil {
		go dialSeed(m.id, m.seed, m.events, m.ctx.Done())
	}
	m.loop()
}

// Close shuts the controller down and tears down every link.
func (m *Mesh) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		if m.listener != nil {
			m.listener.close()
		}
		if m.tap != nil {
			m.tap.Close()
		}
		for _, p := range m.registry.Linked() {
			if l := p.Link(); l != nil {
				l.Close()
			}
		}
		m.wg.Wait()
	})
}

// tapPump reads egress frames from the kernel and posts them to the
// controller. The TAP read buffer is reused, so the frame is copied before
// it crosses the channel.
func (m *Mesh) tapPump() {
	for {
		f, err := m.tap.ReadFrame()
		if err != nil {
			select {
			case <-m.ctx.Done():
				return
			default:
			}
			log.Debug().Err(err).Msg("tap read failed")
			continue
		}
		cp := tuntap.Frame{
			Src:     append(net.HardwareAddr(nil), f.Src...),
			Dst:     append(net.HardwareAddr(nil), f.Dst...),
			Payload: append([]byte(nil), f.Payload...),
		}
		select {
		case m.events <- event{kind: evTapRx, tap: cp}:
		case <-m.ctx.Done():
			return
		}
	}
}

// loop is the single-writer controller: every mutation of the registry,
// route table, dedup cache and broadcast counter happens here.
func (m *Mesh) loop() {
	announce := time.NewTicker(m.cfg.AnnounceInterval)
	defer announce.Stop()
	reconnect := time.NewTicker(m.cfg.ReconnectInterval)
	defer reconnect.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-announce.C:
			m.handleAnnounceTick()
		case <-reconnect.C:
			m.handleReconnectTick()
		case ev := <-m.events:
			m.dispatch(ev)
		}
	}
}

func (m *Mesh) dispatch(ev event) {
	switch ev.kind {
	case evLinkUp:
		m.handleLinkUp(ev.link)
	case evLinkDown:
		m.handleLinkDown(ev.link)
	case evFrameRx:
		m.handleFrameRx(ev.link, ev.frameKind, ev.payload)
	case evTapRx:
		m.handleTapRx(ev.tap)
	case evAnnounceTick:
		m.handleAnnounceTick()
	case evReconnectTick:
		m.handleReconnectTick()
	}
}

// handleLinkUp admits a freshly authenticated link: never to ourselves,
// never a second link to the same peer.
func (m *Mesh) handleLinkUp(l *Link) {
	if bytes.Equal(l.RemoteMAC(), m.mac) {
		log.Info().Msg("connected to self, closing")
		l.Close()
		return
	}
	peer, ok := m.registry.AttachLink(l.RemoteMAC(), l)
	if !ok {
		log.Info().Str("peer", peer.MAC().String()).Msg("duplicate link, closing")
		l.Close()
		return
	}
	log.Info().Str("peer", peer.MAC().String()).Msg("link up")
	l.start(m.events)
}

func (m *Mesh) handleLinkDown(l *Link) {
	if m.registry.DetachLink(l.RemoteMAC(), l) {
		log.Info().Str("peer", l.RemoteMAC().String()).Msg("link down")
	}
}

func (m *Mesh) handleFrameRx(l *Link, kind protocol.Kind, payload []byte) {
	m.stats.FramesReceived.Add(1)
	switch kind {
	case protocol.KindAnnounce:
		m.handleAnnounce(l, payload)
	case protocol.KindBroadcast:
		m.handleBroadcast(payload)
	case protocol.KindUnicast:
		m.handleUnicast(payload)
	default:
		m.dropFrame("unknown kind", l.RemoteMAC())
	}
}

func (m *Mesh) handleAnnounce(l *Link, payload []byte) {
	var ann protocol.Announce
	if err := ann.UnmarshalBinary(payload); err != nil {
		m.dropFrame(err.Error(), l.RemoteMAC())
		return
	}
	if bytes.Equal(ann.Origin, m.mac) {
		m.dropFrame("self-origin announce", ann.Origin)
		return
	}
	via, _ := m.registry.Get(l.RemoteMAC())
	if via == nil {
		via = m.registry.GetOrCreate(l.RemoteMAC())
	}
	if !m.routes.Observe(ann.Origin, via, ann.Stamp) {
		m.dropFrame("stale announce", ann.Origin)
		return
	}
	m.stats.AnnouncesAccepted.Add(1)
	// Re-flood the accepted announce verbatim; the sender's own stamp check
	// filters the echo.
	frame, err := protocol.Encode(protocol.KindAnnounce, payload)
	if err != nil {
		return
	}
	m.flood(frame)
}

func (m *Mesh) handleBroadcast(payload []byte) {
	var bc protocol.Broadcast
	if err := bc.UnmarshalBinary(payload); err != nil {
		m.dropFrame(err.Error(), nil)
		return
	}
	if bytes.Equal(bc.Src, m.mac) {
		m.dropFrame("self-origin broadcast", bc.Src)
		return
	}
	if m.dedup.Seen(bc.Src, bc.Stamp) {
		m.dropFrame("duplicate broadcast", bc.Src)
		return
	}
	if m.tap != nil {
		if err := m.tap.WriteFrame(bc.Src, tuntap.BroadcastAddr, bc.Payload); err != nil {
			log.Debug().Err(err).Msg("tap inject failed")
		}
	}
	frame, err := protocol.Encode(protocol.KindBroadcast, payload)
	if err != nil {
		return
	}
	m.flood(frame)
}

func (m *Mesh) handleUnicast(payload []byte) {
	var u protocol.Unicast
	if err := u.UnmarshalBinary(payload); err != nil {
		m.dropFrame(err.Error(), nil)
		return
	}
	if bytes.Equal(u.Dst, m.mac) {
		if m.tap != nil {
			if err := m.tap.WriteFrame(u.Src, u.Dst, u.Payload); err != nil {
				log.Debug().Err(err).Msg("tap inject failed")
			}
		}
		return
	}
	// Transit traffic: forward along the freshest-stamp route.
	frame, err := protocol.Encode(protocol.KindUnicast, payload)
	if err != nil {
		return
	}
	m.routeFrame(u.Dst, frame)
}

func (m *Mesh) handleTapRx(f tuntap.Frame) {
	if !bytes.Equal(f.Src, m.mac) {
		// We must not forge other origins.
		m.dropFrame("tap frame from wrong mac", f.Src)
		return
	}
	if tuntap.IsBroadcast(f.Dst) {
		stamp := m.broadcastID()
		bc := &protocol.Broadcast{Stamp: stamp, Src: f.Src, Payload: f.Payload}
		payload, err := bc.MarshalBinary()
		if err != nil {
			return
		}
		frame, err := protocol.Encode(protocol.KindBroadcast, payload)
		if err != nil {
			m.dropFrame(err.Error(), f.Src)
			return
		}
		m.dedup.Seen(f.Src, stamp)
		m.stats.BroadcastsFlooded.Add(1)
		m.flood(frame)
		return
	}

	u := &protocol.Unicast{Dst: f.Dst, Src: f.Src, Payload: f.Payload}
	payload, err := u.MarshalBinary()
	if err != nil {
		return
	}
	frame, err := protocol.Encode(protocol.KindUnicast, payload)
	if err != nil {
		m.dropFrame(err.Error(), f.Src)
		return
	}
	m.routeFrame(f.Dst, frame)
}

// routeFrame pushes an encoded unicast towards dst, checking link liveness
// at forwarding time; a stale next-hop drops the frame.
func (m *Mesh) routeFrame(dst net.HardwareAddr, frame []byte) {
	peer := m.routes.Lookup(dst)
	if peer == nil {
		m.dropFrame("no route", dst)
		return
	}
	link := peer.Link()
	if link == nil {
		m.dropFrame("next hop not linked", dst)
		return
	}
	link.Push(frame)
	m.stats.FramesSent.Add(1)
}

// flood pushes an encoded frame onto every linked peer. It never writes to
// the local TAP.
func (m *Mesh) flood(frame []byte) {
	for _, p := range m.registry.Linked() {
		if l := p.Link(); l != nil {
			l.Push(frame)
			m.stats.FramesSent.Add(1)
		}
	}
}

func (m *Mesh) handleAnnounceTick() {
	stamp := m.broadcastID()
	payload, err := protocol.NewAnnounce(m.mac, stamp).MarshalBinary()
	if err != nil {
		return
	}
	frame, err := protocol.Encode(protocol.KindAnnounce, payload)
	if err != nil {
		return
	}
	m.flood(frame)
}

// handleReconnectTick dials the seed when fewer than two peers are linked.
// The target is best effort; exceeding it is fine.
func (m *Mesh) handleReconnectTick() {
	if m.seed == nil {
		return
	}
	if m.registry.LinkedCount() >= 2 {
		return
	}
	go dialSeed(m.id, m.seed, m.events, m.ctx.Done())
}

// broadcastID returns a strictly increasing stamp: wall-clock milliseconds
// UTC, bumped by one whenever the clock has not advanced past the last id.
func (m *Mesh) broadcastID() int64 {
	now := time.Now().UTC().UnixMilli()
	if now <= m.bcLastID {
		m.bcLastID++
		return m.bcLastID
	}
	m.bcLastID = now
	return now
}

func (m *Mesh) dropFrame(reason string, mac net.HardwareAddr) {
	m.stats.FramesDropped.Add(1)
	ev := log.Debug().Str("reason", reason)
	if mac != nil {
		ev = ev.Str("mac", mac.String())
	}
	ev.Msg("frame dropped")
}
