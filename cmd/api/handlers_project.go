package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cutroom/cutroom/internal/middleware"
	"github.com/cutroom/cutroom/internal/project"
)

// exportProject downloads a composition as a YAML project file
// GET /api/v1/compositions/:id/project
func (api *API) exportProject(c *gin.Context) {
	snap, err := api.snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get composition", err)
		return
	}

	data, err := project.Marshal(project.FromSnapshot(snap))
	if err != nil {
		api.respondError(c, "failed to encode project", err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+snap.Composition.ID+`.yaml"`)
	c.Data(http.StatusOK, "application/yaml", data)
}

// importProject creates a new composition from a YAML project file
// POST /api/v1/projects
func (api *API) importProject(c *gin.Context) {
	p, err := project.Read(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project", "details": err.Error()})
		return
	}

	owner, _ := middleware.GetOwnerID(c)
	comp, remap, err := project.Import(c.Request.Context(), api.repo, p, owner)
	if err != nil {
		api.respondError(c, "failed to import project", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"composition": comp,
		"clip_ids":    remap,
	})
}
