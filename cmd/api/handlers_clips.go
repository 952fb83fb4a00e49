package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cutroom/cutroom/pkg/models"
)

// addClip places a source range on the timeline
// POST /api/v1/compositions/:id/clips
func (api *API) addClip(c *gin.Context) {
	var req models.NewClip
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	req.CompositionID = c.Param("id")

	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid clip", "details": err.Error()})
		return
	}

	id, err := api.repo.AddClip(c.Request.Context(), req)
	if err != nil {
		api.respondError(c, "failed to add clip", err)
		return
	}
	api.logger.WithClipID(id).WithCompositionID(req.CompositionID).Info("Clip added")

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// getClip returns one clip
// GET /api/v1/clips/:id
func (api *API) getClip(c *gin.Context) {
	clip, err := api.repo.GetClip(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get clip", err)
		return
	}

	c.JSON(http.StatusOK, clip)
}

// updateClip applies a partial update to a clip
// PATCH /api/v1/clips/:id
func (api *API) updateClip(c *gin.Context) {
	var patch models.ClipPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if patch.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty patch"})
		return
	}

	id, err := api.repo.UpdateClip(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		api.respondError(c, "failed to update clip", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}

// removeClip deletes a clip and its tracks
// DELETE /api/v1/clips/:id
func (api *API) removeClip(c *gin.Context) {
	id := c.Param("id")
	if err := api.repo.RemoveClip(c.Request.Context(), id); err != nil {
		api.respondError(c, "failed to remove clip", err)
		return
	}

	api.logger.WithClipID(id).Info("Clip removed")

	c.Status(http.StatusNoContent)
}

// upsertTrack creates a keyframe track or replaces the keyframes of an existing one
// PUT /api/v1/compositions/:id/tracks
func (api *API) upsertTrack(c *gin.Context) {
	var req models.TrackUpsert
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	req.CompositionID = c.Param("id")

	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid track", "details": err.Error()})
		return
	}

	id, err := api.repo.UpsertTrack(c.Request.Context(), req)
	if err != nil {
		api.respondError(c, "failed to save track", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id})
}
