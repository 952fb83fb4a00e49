package lanes

import (
	"sort"

	"github.com/cutroom/cutroom/pkg/models"
)

// StackOrder returns the distinct zIndex values of the clips, highest first.
// Index i of the result is the zIndex drawn in compositing lane i.
func StackOrder(clips []models.Clip) []int {
	seen := make(map[int]struct{}, len(clips))
	order := make([]int, 0, len(clips))
	for _, c := range clips {
		if _, ok := seen[c.ZIndex]; ok {
			continue
		}
		seen[c.ZIndex] = struct{}{}
		order = append(order, c.ZIndex)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(order)))
	return order
}

// LaneForZ maps each zIndex in order to its compositing lane
func LaneForZ(order []int) map[int]int {
	lanes := make(map[int]int, len(order))
	for i, z := range order {
		lanes[z] = i
	}
	return lanes
}

// CommitZIndex resolves the zIndex a clip takes when dropped on lane.
// Lanes past the known range extend the order with new maxima.
func CommitZIndex(order []int, lane int) int {
	if lane < 0 {
		lane = 0
	}
	if lane < len(order) {
		return order[lane]
	}
	if len(order) == 0 {
		return lane
	}
	max := order[0]
	for _, z := range order {
		if z > max {
			max = z
		}
	}
	return max + (lane - len(order) + 1)
}
