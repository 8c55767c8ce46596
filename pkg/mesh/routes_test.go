package mesh

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mac(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	m, err := net.ParseMAC(s)
	require.NoError(t, err)
	return m
}

func TestRouteTableObserveNewOrigin(t *testing.T) {
	rt := NewRouteTable()
	origin := mac(t, "aa:aa:aa:aa:aa:aa")
	via := &Peer{mac: mac(t, "bb:bb:bb:bb:bb:bb")}

	assert.True(t, rt.Observe(origin, via, 100))
	assert.Equal(t, via, rt.Lookup(origin))

	stamp, ok := rt.Stamp(origin)
	require.True(t, ok)
	assert.Equal(t, int64(100), stamp)
}

func TestRouteTableStaleStampsRejected(t *testing.T) {
	rt := NewRouteTable()
	origin := mac(t, "aa:aa:aa:aa:aa:aa")
	via := &Peer{mac: mac(t, "bb:bb:bb:bb:bb:bb")}

	require.True(t, rt.Observe(origin, via, 102))

	// Older and equal stamps are stale; the stored stamp never regresses.
	assert.False(t, rt.Observe(origin, via, 100))
	assert.False(t, rt.Observe(origin, via, 102))

	stamp, ok := rt.Stamp(origin)
	require.True(t, ok)
	assert.Equal(t, int64(102), stamp)
}

func TestRouteTableReplaySingleAccept(t *testing.T) {
	rt := NewRouteTable()
	origin := mac(t, "aa:aa:aa:aa:aa:aa")
	via := &Peer{mac: mac(t, "bb:bb:bb:bb:bb:bb")}

	assert.True(t, rt.Observe(origin, via, 50))
	assert.False(t, rt.Observe(origin, via, 50))
}

func TestRouteTableFreshestWinsAcrossPeers(t *testing.T) {
	rt := NewRouteTable()
	origin := mac(t, "aa:aa:aa:aa:aa:aa")
	viaB := &Peer{mac: mac(t, "bb:bb:bb:bb:bb:bb")}
	viaC := &Peer{mac: mac(t, "cc:cc:cc:cc:cc:cc")}

	require.True(t, rt.Observe(origin, viaB, 10))
	require.True(t, rt.Observe(origin, viaC, 20))
	assert.Equal(t, viaC, rt.Lookup(origin))

	// A late echo through B with the older stamp must not steal the route.
	assert.False(t, rt.Observe(origin, viaB, 10))
	assert.Equal(t, viaC, rt.Lookup(origin))
}

func TestRouteTableLookupUnknown(t *testing.T) {
	rt := NewRouteTable()
	assert.Nil(t, rt.Lookup(mac(t, "de:ad:be:ef:00:01")))
}

func TestRouteTableAcceptedSequenceStrictlyIncreasing(t *testing.T) {
	rt := NewRouteTable()
	origin := mac(t, "aa:aa:aa:aa:aa:aa")
	via := &Peer{mac: mac(t, "bb:bb:bb:bb:bb:bb")}

	stamps := []int64{5, 3, 5, 7, 7, 6, 10, 2, 11}
	var accepted []int64
	for _, s := range stamps {
		if rt.Observe(origin, via, s) {
			accepted = append(accepted, s)
		}
	}
	require.NotEmpty(t, accepted)
	for i := 1; i < len(accepted); i++ {
		assert.Greater(t, accepted[i], accepted[i-1],
			"accepted stamps must form a strictly increasing sequence: %v", accepted)
	}
}

func TestRouteTableSnapshot(t *testing.T) {
	rt := NewRouteTable()
	origin := mac(t, "aa:aa:aa:aa:aa:aa")
	via := &Peer{mac: mac(t, "bb:bb:bb:bb:bb:bb")}
	require.True(t, rt.Observe(origin, via, 1))

	snap := rt.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "aa:aa:aa:aa:aa:aa", snap[0].Dst)
	assert.Equal(t, "bb:bb:bb:bb:bb:bb", snap[0].NextHop)
	assert.Equal(t, int64(1), snap[0].Stamp)
	assert.False(t, snap[0].Linked)
}
