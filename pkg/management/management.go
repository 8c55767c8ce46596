// Package management exposes a small HTTP API for inspecting a running node:
// identity and counters, the peer set, the learned routes, and the most
// recent log entries read back from the node database.
package management

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"invpn-go/pkg/log"
	"invpn-go/pkg/mesh"
)

// Node is the view of a running controller the API needs.
type Node interface {
	MAC() net.HardwareAddr
	Uptime() time.Duration
	Registry() *mesh.Registry
	Routes() *mesh.RouteTable
	StatsSnapshot() mesh.StatsSnapshot
}

// API serves node introspection over HTTP.
type API struct {
	echo *echo.Echo
	node Node
	addr string
}

type statusResponse struct {
	MAC         string              `json:"mac"`
	Uptime      string              `json:"uptime"`
	LinkedPeers int                 `json:"linked_peers"`
	KnownPeers  int                 `json:"known_peers"`
	Routes      int                 `json:"routes"`
	Stats       mesh.StatsSnapshot  `json:"stats"`
}

type peerResponse struct {
	MAC    string `json:"mac"`
	Linked bool   `json:"linked"`
}

type logEntryResponse struct {
	ID         int64     `json:"id"`
	InsertedAt time.Time `json:"inserted_at"`
	Data       string    `json:"data"`
}

// New builds the API around a running mesh controller.
func New(node Node, addr string) *API {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	a := &API{echo: e, node: node, addr: addr}
	e.GET("/status", a.getStatus)
	e.GET("/peers", a.getPeers)
	e.GET("/routes", a.getRoutes)
	e.GET("/logs", a.getLogs)
	return a
}

func (a *API) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		MAC:         a.node.MAC().String(),
		Uptime:      a.node.Uptime().Round(time.Second).String(),
		LinkedPeers: a.node.Registry().LinkedCount(),
		KnownPeers:  len(a.node.Registry().All()),
		Routes:      a.node.Routes().Len(),
		Stats:       a.node.StatsSnapshot(),
	})
}

func (a *API) getPeers(c echo.Context) error {
	peers := a.node.Registry().All()
	resp := make([]peerResponse, 0, len(peers))
	for _, p := range peers {
		resp = append(resp, peerResponse{MAC: p.MAC().String(), Linked: p.IsLinked()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (a *API) getRoutes(c echo.Context) error {
	return c.JSON(http.StatusOK, a.node.Routes().Snapshot())
}

func (a *API) getLogs(c echo.Context) error {
	n := 100
	if raw := c.QueryParam("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "n must be a non-negative integer")
		}
		n = parsed
	}
	entries, err := log.LastN(n)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	resp := make([]logEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, logEntryResponse{ID: e.ID, InsertedAt: e.InsertedAt, Data: e.Data})
	}
	return c.JSON(http.StatusOK, resp)
}

// Run blocks serving the API until the listener fails or is shut down.
func (a *API) Run() error {
	return a.echo.Start(a.addr)
}

// Close stops the HTTP server.
func (a *API) Close() error {
	return a.echo.Close()
}
