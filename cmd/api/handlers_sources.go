package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type registerSourceRequest struct {
	URL string `json:"url"`
}

func (r registerSourceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required, is.RequestURI),
	)
}

// registerSource probes a media URL and stores its metadata
// POST /api/v1/sources
func (api *API) registerSource(c *gin.Context) {
	var req registerSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	meta, err := api.prober.ProbeSource(ctx, req.URL)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to probe source", "details": err.Error()})
		return
	}

	if err := api.repo.CreateSource(ctx, meta); err != nil {
		api.respondError(c, "failed to register source", err)
		return
	}

	c.JSON(http.StatusCreated, meta)
}

// getSource returns a registered source
// GET /api/v1/sources/:id
func (api *API) getSource(c *gin.Context) {
	src, err := api.repo.GetSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get source", err)
		return
	}

	c.JSON(http.StatusOK, src)
}

// listSources lists registered sources, newest first
// GET /api/v1/sources
func (api *API) listSources(c *gin.Context) {
	limit, offset := pagination(c)

	sources, err := api.repo.ListSources(c.Request.Context(), limit, offset)
	if err != nil {
		api.respondError(c, "failed to list sources", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"limit":   limit,
		"offset":  offset,
	})
}
