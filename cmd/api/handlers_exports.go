package main

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cutroom/cutroom/pkg/models"
)

// createExport queues an export of the composition
// POST /api/v1/compositions/:id/exports
func (api *API) createExport(c *gin.Context) {
	var format models.ExportFormat
	if err := c.ShouldBindJSON(&format); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	format = format.WithDefaults(api.opts.DefaultFormat)
	if err := format.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid export format", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	job, err := api.repo.QueueExport(ctx, c.Param("id"), format)
	if err != nil {
		api.respondError(c, "failed to queue export", err)
		return
	}

	if err := api.queue.PublishExport(ctx, job); err != nil {
		api.logger.WithExportID(job.ID).ErrorWithErr("Failed to publish export", err)

		job.Status = models.ExportStatusFailed
		job.ErrorMsg = "failed to enqueue export"
		if err := api.repo.UpdateExport(ctx, job); err != nil {
			api.logger.WithExportID(job.ID).ErrorWithErr("Failed to mark export failed", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue export"})
		return
	}

	api.logger.LogExportEvent(job.ID, "queued", job.Status, map[string]interface{}{
		"composition_id": job.CompositionID,
		"container":      job.Format.Container,
	})

	c.JSON(http.StatusAccepted, models.QueuedExport{ExportID: job.ID, JobID: job.JobID})
}

// getExport returns an export job. Progress of a running export is read from the cache.
// GET /api/v1/exports/:id
func (api *API) getExport(c *gin.Context) {
	ctx := c.Request.Context()
	job, err := api.repo.GetExport(ctx, c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get export", err)
		return
	}

	if api.cache != nil && job.Status == models.ExportStatusProcessing {
		if progress, ok, err := api.cache.GetExportProgress(ctx, job.ID); err == nil && ok && progress > job.Progress {
			job.Progress = progress
		}
	}

	c.JSON(http.StatusOK, job)
}

// listExports lists the exports of a composition
// GET /api/v1/compositions/:id/exports
func (api *API) listExports(c *gin.Context) {
	jobs, err := api.repo.ListExports(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to list exports", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"exports": jobs})
}
