package tracker

import (
	"testing"
	"time"
)

func TestRankCandidatesRecencyWins(t *testing.T) {
	now := time.Now()
	ids := rankCandidates([]candidate{
		{id: "old", recency: now.Add(-time.Hour), viewers: 9999},
		{id: "fresh", recency: now, viewers: 1},
	})

	if ids[0] != "fresh" {
		t.Errorf("expected freshest game first, got %v", ids)
	}
}

func TestRankCandidatesOfflinePendingLoses(t *testing.T) {
	now := time.Now()
	ids := rankCandidates([]candidate{
		{id: "down", recency: now, offlinePending: true, viewers: 9999},
		{id: "up", recency: now, viewers: 1},
	})

	if ids[0] != "up" {
		t.Errorf("expected online channel first, got %v", ids)
	}
}

func TestRankCandidatesSubscribedWins(t *testing.T) {
	now := time.Now()
	ids := rankCandidates([]candidate{
		{id: "new", recency: now, viewers: 500},
		{id: "held", recency: now, subscribed: true, viewers: 500},
	})

	if ids[0] != "held" {
		t.Errorf("expected already-subscribed channel first, got %v", ids)
	}
}

func TestRankCandidatesViewersThenName(t *testing.T) {
	now := time.Now()
	ids := rankCandidates([]candidate{
		{id: "b", recency: now, viewers: 10, displayName: "Bravo"},
		{id: "a", recency: now, viewers: 10, displayName: "Alpha"},
		{id: "c", recency: now, viewers: 200, displayName: "Zulu"},
	})

	want := []string{"c", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, ids)
		}
	}
}
