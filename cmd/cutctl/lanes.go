package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v3"

	"github.com/cutroom/cutroom/internal/lanes"
	"github.com/cutroom/cutroom/pkg/models"
)

func lanesCommand() *cli.Command {
	return &cli.Command{
		Name:      "lanes",
		Usage:     "Print the editing lanes and compositing order of a project",
		ArgsUsage: "<project.yaml>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			p, err := readProject(cmd)
			if err != nil {
				return err
			}

			snap, remap := p.Snapshot("")
			names := make(map[string]string, len(remap))
			for old, id := range remap {
				names[id] = old
			}

			fmt.Fprintln(cmd.Root().Writer, renderLanes(snap, names))
			return nil
		},
	}
}

// renderLanes tabulates every clip with its editing lane and compositing lane,
// ordered by editing lane then start frame
func renderLanes(snap *models.Snapshot, names map[string]string) string {
	layout := lanes.Assign(lanes.FromClips(snap.Clips), nil)
	laneForZ := lanes.LaneForZ(lanes.StackOrder(snap.Clips))

	clips := make([]models.Clip, len(snap.Clips))
	copy(clips, snap.Clips)
	sort.SliceStable(clips, func(i, j int) bool {
		li, lj := layout.LaneOf[clips[i].ID], layout.LaneOf[clips[j].ID]
		if li != lj {
			return li < lj
		}
		return clips[i].TimelineStartFrame < clips[j].TimelineStartFrame
	})

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Lane", "Clip", "Label", "Start", "End", "Z", "Stack", "Source"})

	for _, c := range clips {
		name := names[c.ID]
		if name == "" {
			name = c.ID
		}
		start, end := c.Interval()
		tw.AppendRow(table.Row{
			layout.LaneOf[c.ID],
			name,
			c.Label,
			strconv.Itoa(start),
			strconv.Itoa(end),
			c.ZIndex,
			laneForZ[c.ZIndex],
			c.SourceMediaID,
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	tw.AppendFooter(table.Row{"", "", "", "", "", "", fmt.Sprintf("%d lanes", layout.Count()), ""})

	return tw.Render()
}
