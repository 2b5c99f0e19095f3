package tracker

import (
	"sort"
	"time"
)

// candidate is one channel id competing for a subscription slot.
type candidate struct {
	id             string
	recency        time.Time // most recent refresh of any game the channel belongs to
	offlinePending bool
	subscribed     bool
	viewers        int
	displayName    string
}

// rankCandidates orders candidates best-first: recently queried games
// win, then channels not pending offline, then channels already
// subscribed (less churn), then viewer count, then display name as a
// deterministic tie-break. Returns ids only.
func rankCandidates(cands []candidate) []string {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if !a.recency.Equal(b.recency) {
			return a.recency.After(b.recency)
		}
		if a.offlinePending != b.offlinePending {
			return !a.offlinePending
		}
		if a.subscribed != b.subscribed {
			return a.subscribed
		}
		if a.viewers != b.viewers {
			return a.viewers > b.viewers
		}
		return a.displayName < b.displayName
	})

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}
