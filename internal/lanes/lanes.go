// Package lanes partitions timeline intervals into non-overlapping rows and maps
// zIndex values to compositing lanes.
package lanes

import (
	"sort"

	"github.com/cutroom/cutroom/pkg/models"
)

// Interval is a half-open frame range [Start, End) owned by a clip
type Interval struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Overlaps reports whether two half-open intervals share a frame
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Layout is the result of a lane assignment
type Layout struct {
	Lanes  [][]Interval   `json:"lanes"`
	LaneOf map[string]int `json:"lane_of"`
}

// Count returns the number of lanes in use
func (l Layout) Count() int {
	return len(l.Lanes)
}

// FromClips derives lane intervals from clip timeline positions. Trim is ignored.
func FromClips(clips []models.Clip) []Interval {
	intervals := make([]Interval, 0, len(clips))
	for _, c := range clips {
		start, end := c.Interval()
		intervals = append(intervals, Interval{ID: c.ID, Start: start, End: end})
	}
	return intervals
}

// Assign places every interval into the first lane where it overlaps nothing,
// opening a new lane when none fits. Intervals are visited in (start, end) order.
// A preferred lane is honoured for an id when that lane is free at its position and
// exists or is the next new lane; this keeps a dragged clip pinned near the pointer.
func Assign(intervals []Interval, preferred map[string]int) Layout {
	sorted := make([]Interval, len(intervals))
	copy(sorted, intervals)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	layout := Layout{LaneOf: make(map[string]int, len(sorted))}

	for _, cand := range sorted {
		lane := -1

		if want, ok := preferred[cand.ID]; ok && want >= 0 && want <= len(layout.Lanes) {
			if want == len(layout.Lanes) {
				layout.Lanes = append(layout.Lanes, nil)
			}
			if fits(layout.Lanes[want], cand) {
				lane = want
			}
		}

		if lane < 0 {
			for i, placed := range layout.Lanes {
				if fits(placed, cand) {
					lane = i
					break
				}
			}
		}

		if lane < 0 {
			layout.Lanes = append(layout.Lanes, nil)
			lane = len(layout.Lanes) - 1
		}

		layout.Lanes[lane] = append(layout.Lanes[lane], cand)
		layout.LaneOf[cand.ID] = lane
	}

	return layout
}

func fits(lane []Interval, cand Interval) bool {
	for _, other := range lane {
		if !(other.End <= cand.Start || other.Start >= cand.End) {
			return false
		}
	}
	return true
}
