package tracker

import "github.com/dropscout/dropscout/internal/model"

// Delta is the raw added/removed/updated result of comparing two
// channel lists. It carries no metadata; the tracker wraps it into a
// model.DiffEvent before delivery.
type Delta struct {
	Added      []model.ChannelInfo
	RemovedIDs []string
	Updated    []model.ChannelInfo
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.RemovedIDs) == 0 && len(d.Updated) == 0
}

// Diff compares two channel lists keyed by id. Added holds entries only
// in next, RemovedIDs entries only in prev, Updated entries present in
// both whose fields differ. Pure; no tracker state involved.
func Diff(prev, next []model.ChannelInfo) Delta {
	prevByID := make(map[string]model.ChannelInfo, len(prev))
	for _, c := range prev {
		prevByID[c.ID] = c
	}

	var d Delta
	seen := make(map[string]struct{}, len(next))
	for _, c := range next {
		seen[c.ID] = struct{}{}
		old, ok := prevByID[c.ID]
		if !ok {
			d.Added = append(d.Added, c)
			continue
		}
		if !old.Equal(c) {
			d.Updated = append(d.Updated, c)
		}
	}
	for _, c := range prev {
		if _, ok := seen[c.ID]; !ok {
			d.RemovedIDs = append(d.RemovedIDs, c.ID)
		}
	}
	return d
}

// Apply replays a delta on top of prev and returns the resulting list.
// Apply(prev, Diff(prev, next)) equals next by id.
func Apply(prev []model.ChannelInfo, d Delta) []model.ChannelInfo {
	removed := make(map[string]struct{}, len(d.RemovedIDs))
	for _, id := range d.RemovedIDs {
		removed[id] = struct{}{}
	}
	updated := make(map[string]model.ChannelInfo, len(d.Updated))
	for _, c := range d.Updated {
		updated[c.ID] = c
	}

	out := make([]model.ChannelInfo, 0, len(prev)+len(d.Added))
	for _, c := range prev {
		if _, ok := removed[c.ID]; ok {
			continue
		}
		if u, ok := updated[c.ID]; ok {
			c = u
		}
		out = append(out, c)
	}
	return append(out, d.Added...)
}
