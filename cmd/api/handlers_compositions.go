package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cutroom/cutroom/internal/middleware"
	"github.com/cutroom/cutroom/pkg/models"
)

type createCompositionRequest struct {
	Name     string           `json:"name"`
	Settings *models.Settings `json:"settings,omitempty"`
}

func (r createCompositionRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
	)
}

// createComposition creates an empty composition
// POST /api/v1/compositions
func (api *API) createComposition(c *gin.Context) {
	var req createCompositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	comp := &models.Composition{
		Name:     req.Name,
		Settings: models.DefaultSettings(),
	}
	if req.Settings != nil {
		comp.Settings = *req.Settings
	}
	if owner, ok := middleware.GetOwnerID(c); ok {
		comp.OwnerID = owner
	}

	if err := api.repo.CreateComposition(c.Request.Context(), comp); err != nil {
		api.respondError(c, "failed to create composition", err)
		return
	}

	c.JSON(http.StatusCreated, comp)
}

// listCompositions lists compositions, newest first
// GET /api/v1/compositions
func (api *API) listCompositions(c *gin.Context) {
	limit, offset := pagination(c)

	comps, err := api.repo.ListCompositions(c.Request.Context(), limit, offset)
	if err != nil {
		api.respondError(c, "failed to list compositions", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"compositions": comps,
		"limit":        limit,
		"offset":       offset,
	})
}

// getComposition returns the full snapshot: composition, clips, tracks, exports and sources
// GET /api/v1/compositions/:id
func (api *API) getComposition(c *gin.Context) {
	snap, err := api.snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get composition", err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// updateSettings replaces the composition settings
// PUT /api/v1/compositions/:id/settings
func (api *API) updateSettings(c *gin.Context) {
	var settings models.Settings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if err := settings.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings", "details": err.Error()})
		return
	}

	if err := api.repo.UpdateSettings(c.Request.Context(), c.Param("id"), settings); err != nil {
		api.respondError(c, "failed to update settings", err)
		return
	}

	c.JSON(http.StatusOK, settings)
}

// deleteComposition deletes a composition with its clips, tracks and exports.
// Published export files are removed after the rows; a storage failure is logged only.
// DELETE /api/v1/compositions/:id
func (api *API) deleteComposition(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var published []models.ExportJob
	if api.artifacts != nil {
		jobs, err := api.repo.ListExports(ctx, id)
		if err != nil {
			api.respondError(c, "failed to delete composition", err)
			return
		}
		published = jobs
	}

	if err := api.repo.DeleteComposition(ctx, id); err != nil {
		api.respondError(c, "failed to delete composition", err)
		return
	}

	if api.cache != nil {
		if err := api.cache.DeleteSnapshots(ctx, id); err != nil {
			api.logger.WithCompositionID(id).WithError(err).Warn("Snapshot cache cleanup failed")
		}
	}

	if len(published) > 0 {
		if err := api.artifacts.DeleteExports(ctx, published); err != nil {
			api.logger.WithCompositionID(id).ErrorWithErr("Failed to delete export artifacts", err)
		}
	}

	c.Status(http.StatusNoContent)
}
