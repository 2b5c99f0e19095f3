package tracker

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// upstreamRejectionPatterns mark service errors that are systemic, not
// transient: retrying a shard against them is pointless, so the tracker
// goes straight to polling.
var upstreamRejectionPatterns = []string{
	"err_badauth",
	"rejected",
	"denied",
}

func isUpstreamRejection(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, p := range upstreamRejectionPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// fallbackActiveLocked reports whether the timed fallback window is
// currently open.
func (t *Tracker) fallbackActiveLocked() bool {
	return !t.fallbackUntil.IsZero() && time.Now().Before(t.fallbackUntil)
}

// effectiveModeLocked is what the tracker is actually doing right now,
// as opposed to the configured preference.
func (t *Tracker) effectiveModeLocked() string {
	if t.opts.Mode == ModePolling || t.fallbackActiveLocked() {
		return ModePolling
	}
	return ModeRealtime
}

// refreshWindowLocked is the snapshot freshness window; polling mode
// compensates for missing realtime updates with a shorter one.
func (t *Tracker) refreshWindowLocked() time.Duration {
	if t.effectiveModeLocked() == ModePolling {
		return t.opts.FallbackRefreshInterval
	}
	return t.opts.RefreshInterval
}

// maybeExitFallbackLocked clears an elapsed fallback window. Every
// realtime-mode entry point calls this first, so expiry does not depend
// solely on the restore timer firing.
func (t *Tracker) maybeExitFallbackLocked() {
	if t.fallbackUntil.IsZero() || time.Now().Before(t.fallbackUntil) {
		return
	}
	t.fallbackUntil = time.Time{}
	if t.fallbackTimer != nil {
		t.fallbackTimer.Stop()
		t.fallbackTimer = nil
	}
	t.logger.Info("fallback cooldown elapsed, resuming realtime mode")
}

// enterFallbackLocked switches the whole tracker to timed polling:
// every shard is disconnected and stays down until the cooldown
// elapses.
func (t *Tracker) enterFallbackLocked(reason string) {
	if t.opts.Mode == ModePolling || t.fallbackActiveLocked() {
		return
	}

	until := time.Now().Add(t.opts.FallbackCooldown)
	t.fallbackUntil = until
	t.logger.Warn("entering polling fallback",
		zap.String("reason", reason), zap.Time("until", until))

	for _, s := range t.shards {
		t.disconnectShardLocked(s)
	}

	if t.fallbackTimer != nil {
		t.fallbackTimer.Stop()
	}
	t.fallbackTimer = time.AfterFunc(t.opts.FallbackCooldown, func() {
		t.mu.Lock()
		if t.disposed {
			t.mu.Unlock()
			return
		}
		t.maybeExitFallbackLocked()
		t.reconcileLocked()
		em := t.drainLocked()
		t.mu.Unlock()
		t.deliver(em)
	})

	if hook := t.opts.FallbackHook; hook != nil {
		go hook(until)
	}
}
