package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cutroom/cutroom/internal/database"
	"github.com/cutroom/cutroom/internal/middleware"
	"github.com/cutroom/cutroom/pkg/models"
)

// statusFor maps collaborator errors onto HTTP status codes
func statusFor(err error) int {
	var verrs validation.Errors
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, models.ErrClipNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrInvalid), errors.Is(err, models.ErrUnknownChannel), errors.As(err, &verrs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the matching status. Internal errors are logged, not echoed.
func (api *API) respondError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		api.logger.WithRequestID(c.GetString(middleware.RequestIDContextKey)).ErrorWithErr(msg, err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": msg, "details": err.Error()})
}

// snapshot loads a composition, serving it from the cache when the version matches
func (api *API) snapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	if api.cache == nil {
		return api.repo.GetComposition(ctx, id)
	}

	version, err := api.repo.CompositionVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	if snap, err := api.cache.GetSnapshot(ctx, id, version); err != nil {
		api.logger.WithCompositionID(id).WithError(err).Warn("Snapshot cache read failed")
	} else if snap != nil {
		return snap, nil
	}

	snap, err := api.repo.GetComposition(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := api.cache.SetSnapshot(ctx, snap, api.opts.SnapshotCacheTTL); err != nil {
		api.logger.WithCompositionID(id).WithError(err).Warn("Snapshot cache write failed")
	}
	return snap, nil
}

// pagination reads limit and offset query parameters
func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
