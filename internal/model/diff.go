package model

import "time"

// DiffSource tells a listener whether a delta came from a realtime
// pubsub message or a full fetch from the channel source.
type DiffSource string

const (
	SourceRealtime DiffSource = "realtime"
	SourceFetch    DiffSource = "fetch"
)

// DiffReason is the mutation that produced a delta.
type DiffReason string

const (
	ReasonSnapshot   DiffReason = "snapshot"
	ReasonStreamUp   DiffReason = "stream-up"
	ReasonStreamDown DiffReason = "stream-down"
	ReasonViewers    DiffReason = "viewers"
)

// DiffEvent is the minimal delta describing how a game's channel list
// changed. Events are delivered synchronously to listeners and not
// retained afterwards.
type DiffEvent struct {
	Game       string        `json:"game"`
	At         time.Time     `json:"at"`
	Source     DiffSource    `json:"source"`
	Reason     DiffReason    `json:"reason"`
	Added      []ChannelInfo `json:"added,omitempty"`
	RemovedIDs []string      `json:"removed_ids,omitempty"`
	Updated    []ChannelInfo `json:"updated,omitempty"`
}

// Empty reports whether the event carries no changes. Callers must not
// emit empty events.
func (d DiffEvent) Empty() bool {
	return len(d.Added) == 0 && len(d.RemovedIDs) == 0 && len(d.Updated) == 0
}
