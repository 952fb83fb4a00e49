package editor

import "math"

// Point is a pointer position in timeline pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry converts pointer deltas into frames and lanes
type Geometry struct {
	PxPerFrame float64 `json:"px_per_frame"`
	LaneHeight float64 `json:"lane_height"`
}

// DefaultGeometry is the timeline's default zoom
func DefaultGeometry() Geometry {
	return Geometry{PxPerFrame: 4, LaneHeight: 48}
}

func (g Geometry) withDefaults() Geometry {
	def := DefaultGeometry()
	if g.PxPerFrame <= 0 {
		g.PxPerFrame = def.PxPerFrame
	}
	if g.LaneHeight <= 0 {
		g.LaneHeight = def.LaneHeight
	}
	return g
}

// Frames converts a horizontal pixel delta to whole frames
func (g Geometry) Frames(dx float64) int {
	return int(math.Round(dx / g.PxPerFrame))
}

// Lanes converts a vertical pixel delta to whole lanes
func (g Geometry) Lanes(dy float64) int {
	return int(math.Round(dy / g.LaneHeight))
}

// Target is the part of a clip a pointer went down on
type Target string

const (
	TargetBody  Target = "body"
	TargetLeft  Target = "left"
	TargetRight Target = "right"
)

// Edge is the trimmed side of a clip
type Edge string

const (
	EdgeStart Edge = "start"
	EdgeEnd   Edge = "end"
)

// State is the controller's interaction state: Idle, Dragging or Trimming
type State interface {
	isState()
}

// Idle means no gesture is in progress
type Idle struct{}

// Dragging moves a clip along the timeline and between lanes
type Dragging struct {
	ClipID       string
	PointerStart Point
	OriginFrame  int
	OriginLane   int
	PreviewFrame int
	PreviewLane  int
}

// Trimming moves one edge of a clip's visible window
type Trimming struct {
	ClipID       string
	Edge         Edge
	PointerStart Point
	SlotDuration int
	OriginStart  int
	OriginEnd    int
	PreviewStart int
	PreviewEnd   int
}

func (Idle) isState()     {}
func (Dragging) isState() {}
func (Trimming) isState() {}

// maxInset is the largest inset one edge may take while the other is fixed.
// It keeps start + end < slot - 1 so at least two frames stay visible.
func maxInset(slot, other int) int {
	m := slot - 2 - other
	if m < 0 {
		return 0
	}
	return m
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
