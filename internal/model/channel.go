package model

// ChannelInfo is the last known state of a live broadcaster channel.
// ID is the broadcaster id and is the only identity field; ViewerCount
// and Title change while a stream is live, the rest is fixed per fetch.
type ChannelInfo struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	StreamID    string `json:"stream_id"`
	Title       string `json:"title"`
	ViewerCount int    `json:"viewer_count"`
	Language    string `json:"language"`
	Thumbnail   string `json:"thumbnail"`
	Game        string `json:"game"`
}

// Equal reports whether all comparable fields match.
func (c ChannelInfo) Equal(other ChannelInfo) bool {
	return c == other
}

// CloneChannels returns an independent copy of a channel list. The tracker
// hands these to callers so nothing outside it can alias internal state.
func CloneChannels(in []ChannelInfo) []ChannelInfo {
	if in == nil {
		return nil
	}
	out := make([]ChannelInfo, len(in))
	copy(out, in)
	return out
}
