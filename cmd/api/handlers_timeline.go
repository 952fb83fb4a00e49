package main

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/cutroom/cutroom/internal/editor"
	"github.com/cutroom/cutroom/internal/lanes"
	"github.com/cutroom/cutroom/internal/tracing"
	"github.com/cutroom/cutroom/pkg/models"
)

// getLanes returns the editing-lane layout and the zIndex stacking order
// GET /api/v1/compositions/:id/lanes
func (api *API) getLanes(c *gin.Context) {
	snap, err := api.snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get composition", err)
		return
	}

	order := lanes.StackOrder(snap.Clips)
	c.JSON(http.StatusOK, gin.H{
		"layout":     lanes.Assign(lanes.FromClips(snap.Clips), nil),
		"stack":      order,
		"lane_for_z": lanes.LaneForZ(order),
	})
}

// Command operations
const (
	CommandSplit     = "split"
	CommandDuplicate = "duplicate"
	CommandDelete    = "delete"
)

type commandRequest struct {
	Op             string  `json:"op"`
	Playhead       float64 `json:"playhead"`
	SelectedClipID string  `json:"selected_clip_id,omitempty"`
}

func (r commandRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Op, validation.Required, validation.In(CommandSplit, CommandDuplicate, CommandDelete)),
		validation.Field(&r.Playhead, validation.Min(0.0)),
	)
}

// runCommand runs a split, duplicate or delete command at the playhead.
// A command whose preconditions do not hold is not an error: it returns applied=false.
// POST /api/v1/compositions/:id/commands
func (api *API) runCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid command", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	snap, err := api.snapshot(ctx, c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get composition", err)
		return
	}

	ctrl := editor.NewController(api.repo, snap, editor.DefaultGeometry(), api.logger.WithCompositionID(snap.Composition.ID).Zerolog())
	if req.SelectedClipID != "" {
		ctrl.Select(req.SelectedClipID)
	}

	var run func(context.Context, float64) (bool, error)
	switch req.Op {
	case CommandSplit:
		run = ctrl.SplitAtPlayhead
	case CommandDuplicate:
		run = ctrl.DuplicateAtPlayhead
	case CommandDelete:
		run = ctrl.DeleteSelected
	}

	applied, err := run(ctx, req.Playhead)
	if err != nil {
		api.respondError(c, "failed to save edit", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"applied":  applied,
		"snapshot": ctrl.View(),
	})
}

type gestureRequest struct {
	Target   editor.Target    `json:"target"`
	ClipID   string           `json:"clip_id"`
	From     editor.Point     `json:"from"`
	To       editor.Point     `json:"to"`
	Geometry *editor.Geometry `json:"geometry,omitempty"`
}

func (r gestureRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Target, validation.Required, validation.In(editor.TargetBody, editor.TargetLeft, editor.TargetRight)),
		validation.Field(&r.ClipID, validation.Required),
	)
}

// runGesture replays a pointer gesture (down, move, up) through the interaction controller
// POST /api/v1/compositions/:id/gestures
func (api *API) runGesture(c *gin.Context) {
	var req gestureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gesture", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	snap, err := api.snapshot(ctx, c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get composition", err)
		return
	}

	geometry := editor.DefaultGeometry()
	if req.Geometry != nil {
		geometry = *req.Geometry
	}

	ctrl := editor.NewController(api.repo, snap, geometry, api.logger.WithCompositionID(snap.Composition.ID).Zerolog())
	if !ctrl.PointerDown(req.Target, req.ClipID, req.From) {
		c.JSON(http.StatusOK, gin.H{"applied": false, "snapshot": snap})
		return
	}
	ctrl.PointerMove(req.To)

	applied, err := ctrl.PointerUp(ctx)
	if err != nil {
		api.respondError(c, "failed to save edit", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"applied":  applied,
		"snapshot": ctrl.View(),
	})
}

// getFrame renders one composition frame as PNG
// GET /api/v1/compositions/:id/frames/:frame
func (api *API) getFrame(c *gin.Context) {
	frame, err := strconv.Atoi(c.Param("frame"))
	if err != nil || frame < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame"})
		return
	}

	span, ctx := tracing.StartSpan(c.Request.Context(), "api.render_frame")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "frame", frame)

	snap, err := api.snapshot(ctx, c.Param("id"))
	if err != nil {
		api.respondError(c, "failed to get composition", err)
		return
	}
	if frame >= snap.Composition.Settings.DurationFrames {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frame outside composition"})
		return
	}

	comp := snap.Composition
	if api.cache != nil {
		if data, err := api.cache.GetFrame(ctx, comp.ID, comp.Version, frame); err == nil && data != nil {
			c.Data(http.StatusOK, "image/png", data)
			return
		}
	}

	data, err := api.renderPNG(ctx, snap, frame)
	if err != nil {
		tracing.LogError(span, err)
		api.respondError(c, "failed to render frame", err)
		return
	}

	if api.cache != nil {
		if err := api.cache.SetFrame(ctx, comp.ID, comp.Version, frame, data, api.opts.FrameCacheTTL); err != nil {
			api.logger.WithCompositionID(comp.ID).WithError(err).Warn("Frame cache write failed")
		}
	}

	c.Data(http.StatusOK, "image/png", data)
}

func (api *API) renderPNG(ctx context.Context, snap *models.Snapshot, frame int) ([]byte, error) {
	img, err := api.renderer.RenderFrame(ctx, snap, frame)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
