// Package httpapi wires up the diagnostics Gin router: read-only
// endpoints that introspect clustermgr and storage, entirely separate
// from the domain's raw-socket TCP protocol (§9's gin entry in the
// domain stack).
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foodmesh/internal/clustermgr"
	"foodmesh/internal/metrics"
	"foodmesh/internal/storage"
)

// Handler holds the dependencies every diagnostics endpoint reads from.
type Handler struct {
	mgr      *clustermgr.Manager
	store    *storage.Storage
	ring     []string
	registry *prometheus.Registry
}

// NewHandler builds a Handler.
func NewHandler(mgr *clustermgr.Manager, store *storage.Storage, ring []string) *Handler {
	return &Handler{mgr: mgr, store: store, ring: ring, registry: metrics.Registry()}
}

// Register mounts every diagnostics route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/cluster/nodes", h.ClusterNodes)
	r.GET("/cluster/leader", h.ClusterLeader)
	r.GET("/cluster/term", h.ClusterTerm)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{})))
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ClusterNodes handles GET /cluster/nodes.
func (h *Handler) ClusterNodes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nodes": h.ring})
}

// ClusterLeader handles GET /cluster/leader.
func (h *Handler) ClusterLeader(c *gin.Context) {
	leader := h.mgr.CurrentLeader()
	if leader == "" {
		c.JSON(http.StatusOK, gin.H{"leader": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leader": leader})
}

// ClusterTerm handles GET /cluster/term.
func (h *Handler) ClusterTerm(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"term": h.mgr.CurrentTerm()})
}
