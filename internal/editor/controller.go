package editor

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cutroom/cutroom/internal/lanes"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

// Mutator is the persistence collaborator edits are sent to
type Mutator interface {
	AddClip(ctx context.Context, clip models.NewClip) (string, error)
	UpdateClip(ctx context.Context, clipID string, patch models.ClipPatch) (string, error)
	RemoveClip(ctx context.Context, clipID string) error
	UpsertTrack(ctx context.Context, upsert models.TrackUpsert) (string, error)
}

// Operation names used for logs and metrics
const (
	OpMove      = "move"
	OpTrim      = "trim"
	OpSplit     = "split"
	OpDuplicate = "duplicate"
	OpDelete    = "delete"
)

// Controller is the timeline's interaction state machine.
// Edits are applied to a local overlay first, sent to the store, and dropped
// from the overlay once a confirmed snapshot shows the same values.
type Controller struct {
	store    Mutator
	geometry Geometry
	logger   zerolog.Logger

	mu        sync.Mutex
	confirmed *models.Snapshot
	pending   *overlay
	state     State
	selected  string
}

// NewController creates a controller over a confirmed snapshot
func NewController(store Mutator, snap *models.Snapshot, geometry Geometry, logger zerolog.Logger) *Controller {
	return &Controller{
		store:     store,
		geometry:  geometry.withDefaults(),
		logger:    logger,
		confirmed: snap,
		pending:   newOverlay(),
		state:     Idle{},
	}
}

// State returns the current interaction state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Selected returns the selected clip id, empty when nothing is selected
func (c *Controller) Selected() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Select sets the selected clip; an empty id clears the selection
func (c *Controller) Select(clipID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = clipID
}

// Pending reports how many optimistic edits are still unconfirmed
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Len()
}

// View returns the confirmed snapshot with optimistic edits applied
func (c *Controller) View() *models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view()
}

func (c *Controller) view() *models.Snapshot {
	return c.pending.apply(c.confirmed)
}

// Reconcile installs a freshly read snapshot and clears the edits it confirms
func (c *Controller) Reconcile(snap *models.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.confirmed = snap
	c.pending.reconcile(snap)

	view := c.view()
	if c.selected != "" {
		if _, ok := view.Clip(c.selected); !ok {
			c.selected = ""
		}
	}
	switch s := c.state.(type) {
	case Dragging:
		if _, ok := view.Clip(s.ClipID); !ok {
			c.state = Idle{}
		}
	case Trimming:
		if _, ok := view.Clip(s.ClipID); !ok {
			c.state = Idle{}
		}
	}
}

// PointerDown starts a drag on a clip body or a trim on one of its handles.
// It is ignored unless the controller is idle and the clip exists.
func (c *Controller) PointerDown(target Target, clipID string, at Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, idle := c.state.(Idle); !idle {
		return false
	}
	view := c.view()
	clip, ok := view.Clip(clipID)
	if !ok {
		return false
	}
	c.selected = clipID

	switch target {
	case TargetBody:
		lane := lanes.LaneForZ(lanes.StackOrder(view.Clips))[clip.ZIndex]
		c.state = Dragging{
			ClipID:       clipID,
			PointerStart: at,
			OriginFrame:  clip.TimelineStartFrame,
			OriginLane:   lane,
			PreviewFrame: clip.TimelineStartFrame,
			PreviewLane:  lane,
		}
	case TargetLeft, TargetRight:
		edge := EdgeStart
		if target == TargetRight {
			edge = EdgeEnd
		}
		trim := view.Trim(clip)
		c.state = Trimming{
			ClipID:       clipID,
			Edge:         edge,
			PointerStart: at,
			SlotDuration: clip.SlotDuration(),
			OriginStart:  trim.Start,
			OriginEnd:    trim.End,
			PreviewStart: trim.Start,
			PreviewEnd:   trim.End,
		}
	default:
		return false
	}
	return true
}

// PointerMove updates the gesture preview from the pointer position
func (c *Controller) PointerMove(at Point) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch s := c.state.(type) {
	case Dragging:
		last := c.confirmed.Composition.Settings.DurationFrames - 1
		if last < 0 {
			last = 0
		}
		s.PreviewFrame = clampInt(s.OriginFrame+c.geometry.Frames(at.X-s.PointerStart.X), 0, last)
		s.PreviewLane = s.OriginLane + c.geometry.Lanes(at.Y-s.PointerStart.Y)
		if s.PreviewLane < 0 {
			s.PreviewLane = 0
		}
		c.state = s
	case Trimming:
		delta := c.geometry.Frames(at.X - s.PointerStart.X)
		switch s.Edge {
		case EdgeStart:
			s.PreviewStart = clampInt(s.OriginStart+delta, 0, maxInset(s.SlotDuration, s.OriginEnd))
		case EdgeEnd:
			s.PreviewEnd = clampInt(s.OriginEnd-delta, 0, maxInset(s.SlotDuration, s.OriginStart))
		}
		c.state = s
	}
}

// Cancel abandons the current gesture without committing it
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle{}
}

// PointerUp commits the gesture and returns to Idle. A gesture that ends where it
// started sends nothing.
func (c *Controller) PointerUp(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.state
	c.state = Idle{}

	switch s := state.(type) {
	case Dragging:
		return c.commitDrag(ctx, s)
	case Trimming:
		return c.commitTrim(ctx, s)
	}
	return false, nil
}

func (c *Controller) commitDrag(ctx context.Context, s Dragging) (bool, error) {
	if s.PreviewFrame == s.OriginFrame && s.PreviewLane == s.OriginLane {
		metrics.RecordEditCommand(OpMove, false)
		return false, nil
	}

	view := c.view()
	patch := models.ClipPatch{
		TimelineStartFrame: models.IntPtr(s.PreviewFrame),
		ZIndex:             models.IntPtr(lanes.CommitZIndex(lanes.StackOrder(view.Clips), s.PreviewLane)),
	}

	metrics.RecordEditCommand(OpMove, true)
	c.pending.patch(s.ClipID, patch)
	if _, err := c.store.UpdateClip(ctx, s.ClipID, patch); err != nil {
		return true, c.persistFailed(OpMove, s.ClipID, err)
	}
	return true, nil
}

func (c *Controller) commitTrim(ctx context.Context, s Trimming) (bool, error) {
	if s.PreviewStart == s.OriginStart && s.PreviewEnd == s.OriginEnd {
		metrics.RecordEditCommand(OpTrim, false)
		return false, nil
	}

	trim := models.TrimValue{Start: s.PreviewStart, End: s.PreviewEnd}
	metrics.RecordEditCommand(OpTrim, true)
	c.pending.track(s.ClipID, trim)
	if err := c.upsertTrack(ctx, s.ClipID, trim); err != nil {
		return true, c.persistFailed(OpTrim, s.ClipID, err)
	}
	return true, nil
}

// activePrimary is the selected clip when it covers the playhead, otherwise the
// highest zIndex clip that does
func (c *Controller) activePrimary(view *models.Snapshot, playhead float64) (models.Clip, bool) {
	if c.selected != "" {
		if clip, ok := view.Clip(c.selected); ok && clip.ContainsFrame(view.Trim(clip), playhead) {
			return clip, true
		}
	}
	under := view.ClipsAt(playhead)
	if len(under) == 0 {
		return models.Clip{}, false
	}
	return under[len(under)-1], true
}

// target is the selected clip, or the active primary clip when nothing valid is selected
func (c *Controller) target(view *models.Snapshot, playhead float64) (models.Clip, bool) {
	if c.selected != "" {
		if clip, ok := view.Clip(c.selected); ok {
			return clip, true
		}
	}
	return c.activePrimary(view, playhead)
}

// SplitAtPlayhead cuts the active primary clip in two at the playhead.
// It returns false without touching the store when the cut falls outside the clip.
func (c *Controller) SplitAtPlayhead(ctx context.Context, playhead float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, idle := c.state.(Idle); !idle {
		metrics.RecordEditCommand(OpSplit, false)
		return false, nil
	}

	view := c.view()
	clip, ok := c.activePrimary(view, playhead)
	if !ok {
		metrics.RecordEditCommand(OpSplit, false)
		return false, nil
	}

	cut, ok := SplitPoint(clip, playhead)
	if !ok {
		metrics.RecordEditCommand(OpSplit, false)
		return false, nil
	}
	metrics.RecordEditCommand(OpSplit, true)

	patch := models.ClipPatch{SourceOutFrame: models.IntPtr(cut)}
	c.pending.patch(clip.ID, patch)
	if _, err := c.store.UpdateClip(ctx, clip.ID, patch); err != nil {
		return true, c.persistFailed(OpSplit, clip.ID, err)
	}

	tail := models.NewClipFrom(clip)
	tail.SourceInFrame = cut
	tail.TimelineStartFrame = int(math.Round(playhead))

	trim := view.Trim(clip)
	id, err := c.addClip(ctx, tail)
	if err != nil {
		return true, c.persistFailed(OpSplit, clip.ID, err)
	}

	if _, ok := view.TrackFor(clip.ID, models.ChannelTransform); ok {
		tf := view.Transform(clip.ID)
		c.pending.track(id, tf)
		if err := c.upsertTrack(ctx, id, tf); err != nil {
			return true, c.persistFailed(OpSplit, id, err)
		}
	}

	// The end inset belongs to the tail now.
	if trim.End > 0 {
		head := models.TrimValue{Start: trim.Start}
		c.pending.track(clip.ID, head)
		if err := c.upsertTrack(ctx, clip.ID, head); err != nil {
			return true, c.persistFailed(OpSplit, clip.ID, err)
		}

		created, _ := c.view().Clip(id)
		rest := models.TrimValue{End: trim.End}.Clamp(created.SlotDuration())
		c.pending.track(id, rest)
		if err := c.upsertTrack(ctx, id, rest); err != nil {
			return true, c.persistFailed(OpSplit, id, err)
		}
	}

	c.selected = id
	return true, nil
}

// SplitPoint returns the source frame at which a split at playhead cuts the clip.
// The cut must land strictly inside the clip's source range.
func SplitPoint(clip models.Clip, playhead float64) (int, bool) {
	offset := playhead - float64(clip.TimelineStartFrame)
	if offset <= 0 {
		return 0, false
	}
	cut := clip.SourceInFrame + int(math.Round(offset*clip.Speed))
	if cut <= clip.SourceInFrame || cut >= clip.SourceOutFrame {
		return 0, false
	}
	return cut, true
}

// DuplicateAtPlayhead copies the selected (or active) clip to start at the playhead
func (c *Controller) DuplicateAtPlayhead(ctx context.Context, playhead float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, idle := c.state.(Idle); !idle {
		metrics.RecordEditCommand(OpDuplicate, false)
		return false, nil
	}

	view := c.view()
	clip, ok := c.target(view, playhead)
	if !ok {
		metrics.RecordEditCommand(OpDuplicate, false)
		return false, nil
	}
	metrics.RecordEditCommand(OpDuplicate, true)

	dup := models.NewClipFrom(clip)
	start := int(math.Round(playhead))
	if start < 0 {
		start = 0
	}
	dup.TimelineStartFrame = start
	dup.Label = models.StringPtr(clip.Label + " copy")

	id, err := c.addClip(ctx, dup)
	if err != nil {
		return true, c.persistFailed(OpDuplicate, clip.ID, err)
	}

	if _, ok := view.TrackFor(clip.ID, models.ChannelTransform); ok {
		tf := view.Transform(clip.ID)
		c.pending.track(id, tf)
		if err := c.upsertTrack(ctx, id, tf); err != nil {
			return true, c.persistFailed(OpDuplicate, id, err)
		}
	}

	c.selected = id
	return true, nil
}

// DeleteSelected removes the selected (or active) clip
func (c *Controller) DeleteSelected(ctx context.Context, playhead float64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, idle := c.state.(Idle); !idle {
		metrics.RecordEditCommand(OpDelete, false)
		return false, nil
	}

	view := c.view()
	clip, ok := c.target(view, playhead)
	if !ok {
		metrics.RecordEditCommand(OpDelete, false)
		return false, nil
	}
	metrics.RecordEditCommand(OpDelete, true)

	if c.selected == clip.ID {
		c.selected = ""
	}
	c.pending.remove(clip.ID)
	if err := c.store.RemoveClip(ctx, clip.ID); err != nil {
		return true, c.persistFailed(OpDelete, clip.ID, err)
	}
	return true, nil
}

func (c *Controller) addClip(ctx context.Context, n models.NewClip) (string, error) {
	if n.CompositionID == "" {
		n.CompositionID = c.confirmed.Composition.ID
	}
	id, err := c.store.AddClip(ctx, n)
	if err != nil {
		return "", err
	}
	clip := n.Clip()
	clip.ID = id
	c.pending.add(clip)
	return id, nil
}

func (c *Controller) upsertTrack(ctx context.Context, clipID string, v models.KeyframeValue) error {
	var trackID string
	if t, ok := c.confirmed.TrackFor(clipID, v.Channel()); ok {
		trackID = t.ID
	}

	var upsert models.TrackUpsert
	switch val := v.(type) {
	case models.TransformValue:
		upsert = models.TransformUpsert(c.confirmed.Composition.ID, trackID, clipID, val)
	case models.TrimValue:
		upsert = models.TrimUpsert(c.confirmed.Composition.ID, trackID, clipID, val)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownChannel, v)
	}

	_, err := c.store.UpsertTrack(ctx, upsert)
	return err
}

// persistFailed logs a rejected store write. The optimistic entry stays so the
// view does not snap back before the next confirmed read.
func (c *Controller) persistFailed(op, clipID string, err error) error {
	metrics.RecordEditPersistFailure(op)
	c.logger.Error().
		Err(err).
		Str("op", op).
		Str("clip_id", clipID).
		Msg("Failed to persist edit")
	return fmt.Errorf("failed to persist %s: %w", op, err)
}
