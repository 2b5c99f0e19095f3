package tracker

import "time"

// Status is a point-in-time snapshot of the tracker for operators and
// the debug endpoint.
type Status struct {
	Mode            string `json:"mode"`           // configured preference
	EffectiveMode   string `json:"effective_mode"` // what is actually running
	ConnectionState string `json:"connection_state"`

	Subscriptions        int `json:"subscriptions"`
	DesiredSubscriptions int `json:"desired_subscriptions"`
	TopicLimit           int `json:"topic_limit"`
	ReconnectAttempts    int `json:"reconnect_attempts"`

	FallbackActive bool      `json:"fallback_active"`
	FallbackUntil  time.Time `json:"fallback_until,omitzero"`

	Requests         int    `json:"requests"`
	Failures         int    `json:"failures"`
	LastErrorMessage string `json:"last_error_message,omitempty"`

	Shards []ShardStatus `json:"shards"`
}

// ShardStatus describes one socket in the pool.
type ShardStatus struct {
	ID                int    `json:"id"`
	State             string `json:"state"`
	Subscriptions     int    `json:"subscriptions"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// Status reports the current tracker state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		Mode:                 t.opts.Mode,
		EffectiveMode:        t.effectiveModeLocked(),
		ConnectionState:      "disconnected",
		DesiredSubscriptions: len(t.desired),
		TopicLimit:           t.opts.MaxTrackedTopics,
		ReconnectAttempts:    t.reconnectAttempts,
		FallbackActive:       t.fallbackActiveLocked(),
		Requests:             t.requests,
		Failures:             t.failures,
		LastErrorMessage:     t.lastErrorMessage,
	}
	if st.FallbackActive {
		st.FallbackUntil = t.fallbackUntil
	}

	for _, s := range t.shards {
		st.Subscriptions += len(s.subscribed)
		st.Shards = append(st.Shards, ShardStatus{
			ID:                s.id,
			State:             s.state.String(),
			Subscriptions:     len(s.subscribed),
			ReconnectAttempts: s.attempts,
		})
		switch s.state {
		case shardConnected:
			st.ConnectionState = "connected"
		case shardConnecting:
			if st.ConnectionState != "connected" {
				st.ConnectionState = "connecting"
			}
		}
	}
	return st
}
