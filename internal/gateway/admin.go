package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mugisham37/cms-gateway/internal/cache"
	"github.com/mugisham37/cms-gateway/internal/observability"
	"github.com/mugisham37/cms-gateway/internal/route"
	"github.com/mugisham37/cms-gateway/internal/signer"
)

// Admin is the administrative surface: route CRUD against the catalog,
// cache and route-table resets, and API key management. Reads are served
// from the catalog, not the in-memory table; every successful write
// triggers a table reload.
type Admin struct {
	store    route.Store
	reloader *route.Reloader
	cache    *cache.Layer
	signer   *signer.Signer
	logger   observability.Logger
}

// NewAdmin creates the admin surface.
func NewAdmin(
	store route.Store,
	reloader *route.Reloader,
	cacheLayer *cache.Layer,
	sig *signer.Signer,
	logger observability.Logger,
) *Admin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Admin{
		store:    store,
		reloader: reloader,
		cache:    cacheLayer,
		signer:   sig,
		logger:   logger,
	}
}

// Register mounts the admin handlers on the given router group.
func (a *Admin) Register(r gin.IRouter) {
	routes := r.Group("/routes")
	routes.GET("", a.listRoutes)
	routes.GET("/:id", a.getRoute)
	routes.POST("", a.createRoute)
	routes.PUT("/:id", a.updateRoute)
	routes.DELETE("/:id", a.deleteRoute)
	routes.POST("/reload", a.reloadRoutes)

	r.POST("/cache/clear", a.clearCache)

	keys := r.Group("/keys")
	keys.POST("", a.generateKey)
	keys.DELETE("/:key", a.revokeKey)
}

// listRoutes returns all routes from the catalog.
func (a *Admin) listRoutes(c *gin.Context) {
	routes, err := a.store.List(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": routes})
}

// getRoute returns one route from the catalog by ID.
func (a *Admin) getRoute(c *gin.Context) {
	rt, err := a.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": rt})
}

// createRoute creates a route and reloads the table.
func (a *Admin) createRoute(c *gin.Context) {
	var rt route.Route
	if err := c.ShouldBindJSON(&rt); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid route payload"})
		return
	}

	ctx := c.Request.Context()
	if err := a.store.Create(ctx, &rt); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.reloader.Reload(ctx); err != nil {
		a.writeError(c, err)
		return
	}

	a.logger.Info("route created",
		observability.String("route_id", rt.ID),
		observability.String("pattern", rt.SourcePattern))
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": rt})
}

// updateRoute updates a route and reloads the table.
func (a *Admin) updateRoute(c *gin.Context) {
	var rt route.Route
	if err := c.ShouldBindJSON(&rt); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid route payload"})
		return
	}
	rt.ID = c.Param("id")

	ctx := c.Request.Context()
	if err := a.store.Update(ctx, &rt); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.reloader.Reload(ctx); err != nil {
		a.writeError(c, err)
		return
	}

	a.logger.Info("route updated", observability.String("route_id", rt.ID))
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": rt})
}

// deleteRoute deletes a route and reloads the table.
func (a *Admin) deleteRoute(c *gin.Context) {
	id := c.Param("id")

	ctx := c.Request.Context()
	if err := a.store.Delete(ctx, id); err != nil {
		a.writeError(c, err)
		return
	}
	if err := a.reloader.Reload(ctx); err != nil {
		a.writeError(c, err)
		return
	}

	a.logger.Info("route deleted", observability.String("route_id", id))
	c.Status(http.StatusNoContent)
}

// reloadRoutes forces a route table reload.
func (a *Admin) reloadRoutes(c *gin.Context) {
	if err := a.reloader.Reload(c.Request.Context()); err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// clearCache drops every cached response.
func (a *Admin) clearCache(c *gin.Context) {
	if err := a.cache.Clear(c.Request.Context()); err != nil {
		a.writeError(c, err)
		return
	}
	a.logger.Info("response cache cleared")
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// keyRequest is the payload for key generation.
type keyRequest struct {
	Name     string `json:"name" binding:"required"`
	TenantID string `json:"tenantId"`
}

// generateKey issues a new API key/secret pair. The secret is only
// returned here; it is never readable again.
func (a *Admin) generateKey(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Message: "invalid key payload"})
		return
	}

	key, err := a.signer.Generate(c.Request.Context(), req.Name, req.TenantID)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": key})
}

// revokeKey revokes an API key.
func (a *Admin) revokeKey(c *gin.Context) {
	err := a.signer.Revoke(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, signer.ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Status: "error", Message: "api key not found"})
			return
		}
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps an error to its status and envelope.
func (a *Admin) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		a.logger.Error("admin operation failed", observability.Error(err))
	}
	c.JSON(status, NewErrorResponse(err))
}
