package editor

import (
	"sort"

	"github.com/cutroom/cutroom/pkg/models"
)

type trackKey struct {
	clipID  string
	channel models.Channel
}

// overlay holds edits sent to the store but not yet observed in a snapshot
type overlay struct {
	patches map[string]models.ClipPatch
	tracks  map[trackKey]models.KeyframeValue
	added   map[string]models.Clip
	removed map[string]struct{}
}

func newOverlay() *overlay {
	return &overlay{
		patches: make(map[string]models.ClipPatch),
		tracks:  make(map[trackKey]models.KeyframeValue),
		added:   make(map[string]models.Clip),
		removed: make(map[string]struct{}),
	}
}

func (o *overlay) patch(clipID string, p models.ClipPatch) {
	o.patches[clipID] = o.patches[clipID].Merge(p)
}

func (o *overlay) track(clipID string, v models.KeyframeValue) {
	o.tracks[trackKey{clipID: clipID, channel: v.Channel()}] = v
}

func (o *overlay) add(c models.Clip) {
	o.added[c.ID] = c
}

func (o *overlay) remove(clipID string) {
	o.removed[clipID] = struct{}{}
	delete(o.patches, clipID)
	delete(o.added, clipID)
	for k := range o.tracks {
		if k.clipID == clipID {
			delete(o.tracks, k)
		}
	}
}

// Len is the number of pending entries
func (o *overlay) Len() int {
	return len(o.patches) + len(o.tracks) + len(o.added) + len(o.removed)
}

// reconcile drops every entry the confirmed snapshot already reflects
func (o *overlay) reconcile(snap *models.Snapshot) {
	for id := range o.added {
		if _, ok := snap.Clip(id); ok {
			delete(o.added, id)
		}
	}

	for id := range o.removed {
		if _, ok := snap.Clip(id); !ok {
			delete(o.removed, id)
		}
	}

	for id, p := range o.patches {
		clip, ok := snap.Clip(id)
		if !ok {
			if _, pending := o.added[id]; !pending {
				delete(o.patches, id)
			}
			continue
		}
		if p.Matches(clip) {
			delete(o.patches, id)
		}
	}

	for k, v := range o.tracks {
		if _, ok := snap.Clip(k.clipID); !ok {
			if _, pending := o.added[k.clipID]; !pending {
				delete(o.tracks, k)
			}
			continue
		}
		if confirmedValue(snap, k) == v {
			delete(o.tracks, k)
		}
	}
}

func confirmedValue(snap *models.Snapshot, k trackKey) models.KeyframeValue {
	t, ok := snap.TrackFor(k.clipID, k.channel)
	if !ok || len(t.Keyframes) == 0 {
		return nil
	}
	return t.Keyframes[0].Value
}

// apply returns a copy of snap with the pending edits layered on top
func (o *overlay) apply(snap *models.Snapshot) *models.Snapshot {
	view := &models.Snapshot{
		Composition: snap.Composition,
		Exports:     snap.Exports,
		Sources:     snap.Sources,
	}

	present := make(map[string]struct{}, len(snap.Clips))
	for _, c := range snap.Clips {
		present[c.ID] = struct{}{}
		if _, gone := o.removed[c.ID]; gone {
			continue
		}
		if p, ok := o.patches[c.ID]; ok {
			c = p.Apply(c)
		}
		view.Clips = append(view.Clips, c)
	}
	for _, c := range o.sortedAdded() {
		if _, ok := present[c.ID]; ok {
			continue
		}
		if p, ok := o.patches[c.ID]; ok {
			c = p.Apply(c)
		}
		view.Clips = append(view.Clips, c)
	}

	seen := make(map[trackKey]struct{}, len(o.tracks))
	for _, t := range snap.Tracks {
		if _, gone := o.removed[t.ClipID]; gone {
			continue
		}
		k := trackKey{clipID: t.ClipID, channel: t.Channel}
		if v, ok := o.tracks[k]; ok {
			t.Keyframes = []models.Keyframe{models.HoldKeyframe(v)}
			seen[k] = struct{}{}
		}
		view.Tracks = append(view.Tracks, t)
	}
	for _, k := range o.sortedTrackKeys() {
		if _, ok := seen[k]; ok {
			continue
		}
		view.Tracks = append(view.Tracks, models.Track{
			CompositionID: snap.Composition.ID,
			ClipID:        k.clipID,
			Channel:       k.channel,
			Keyframes:     []models.Keyframe{models.HoldKeyframe(o.tracks[k])},
		})
	}

	return view
}

func (o *overlay) sortedAdded() []models.Clip {
	clips := make([]models.Clip, 0, len(o.added))
	for _, c := range o.added {
		clips = append(clips, c)
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].ID < clips[j].ID })
	return clips
}

func (o *overlay) sortedTrackKeys() []trackKey {
	keys := make([]trackKey, 0, len(o.tracks))
	for k := range o.tracks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].clipID != keys[j].clipID {
			return keys[i].clipID < keys[j].clipID
		}
		return keys[i].channel < keys[j].channel
	})
	return keys
}
