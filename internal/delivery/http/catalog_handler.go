package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Harsh-BH/appjob/internal/usecase"
)

// CatalogHandler lists what the daemon can run and where.
type CatalogHandler struct {
	svc *usecase.JobService
}

// NewCatalogHandler creates a new CatalogHandler.
func NewCatalogHandler(svc *usecase.JobService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

// Engines handles GET /api/v1/engines
func (h *CatalogHandler) Engines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"engines": h.svc.Engines()})
}

// Kinds handles GET /api/v1/kinds
func (h *CatalogHandler) Kinds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"kinds": h.svc.Kinds()})
}
