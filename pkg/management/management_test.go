package management

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invpn-go/pkg/mesh"
)

type fakeNode struct {
	mac      net.HardwareAddr
	registry *mesh.Registry
	routes   *mesh.RouteTable
	stats    mesh.StatsSnapshot
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	mac, err := net.ParseMAC("aa:aa:aa:aa:aa:aa")
	require.NoError(t, err)
	return &fakeNode{
		mac:      mac,
		registry: mesh.NewRegistry(),
		routes:   mesh.NewRouteTable(),
		stats:    mesh.StatsSnapshot{FramesSent: 3, FramesReceived: 5},
	}
}

func (n *fakeNode) MAC() net.HardwareAddr              { return n.mac }
func (n *fakeNode) Uptime() time.Duration              { return 42 * time.Second }
func (n *fakeNode) Registry() *mesh.Registry           { return n.registry }
func (n *fakeNode) Routes() *mesh.RouteTable           { return n.routes }
func (n *fakeNode) StatsSnapshot() mesh.StatsSnapshot  { return n.stats }

func doRequest(t *testing.T, api *API, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	api.echo.ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	node := newFakeNode(t)
	other, err := net.ParseMAC("bb:bb:bb:bb:bb:bb")
	require.NoError(t, err)
	node.registry.GetOrCreate(other)
	require.True(t, node.routes.Observe(other, node.registry.GetOrCreate(other), 7))

	api := New(node, ":0")
	rec := doRequest(t, api, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "aa:aa:aa:aa:aa:aa", resp.MAC)
	assert.Equal(t, "42s", resp.Uptime)
	assert.Equal(t, 0, resp.LinkedPeers)
	assert.Equal(t, 1, resp.KnownPeers)
	assert.Equal(t, 1, resp.Routes)
	assert.Equal(t, uint64(3), resp.Stats.FramesSent)
}

func TestGetPeers(t *testing.T) {
	node := newFakeNode(t)
	other, err := net.ParseMAC("bb:bb:bb:bb:bb:bb")
	require.NoError(t, err)
	node.registry.GetOrCreate(other)

	api := New(node, ":0")
	rec := doRequest(t, api, "/peers")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []peerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "bb:bb:bb:bb:bb:bb", resp[0].MAC)
	assert.False(t, resp[0].Linked)
}

func TestGetRoutes(t *testing.T) {
	node := newFakeNode(t)
	origin, err := net.ParseMAC("cc:cc:cc:cc:cc:cc")
	require.NoError(t, err)
	via, err := net.ParseMAC("bb:bb:bb:bb:bb:bb")
	require.NoError(t, err)
	require.True(t, node.routes.Observe(origin, node.registry.GetOrCreate(via), 11))

	api := New(node, ":0")
	rec := doRequest(t, api, "/routes")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []mesh.RouteInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "cc:cc:cc:cc:cc:cc", resp[0].Dst)
	assert.Equal(t, "bb:bb:bb:bb:bb:bb", resp[0].NextHop)
	assert.Equal(t, int64(11), resp[0].Stamp)
}

func TestGetLogsBadParam(t *testing.T) {
	api := New(newFakeNode(t), ":0")
	rec := doRequest(t, api, "/logs?n=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
