package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dropscout/dropscout/internal/model"
)

// FormatDropClaimMessage creates a drop-claim notification body.
func FormatDropClaimMessage(ev model.UserEvent) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Drop: %s\n", ev.DropID))
	if ev.DropInstanceID != "" {
		sb.WriteString(fmt.Sprintf("Instance: %s\n", ev.DropInstanceID))
	}
	sb.WriteString(fmt.Sprintf("At: %s", ev.At.Format(time.RFC3339)))

	return sb.String()
}

// FormatFallbackMessage creates a degradation notification body.
func FormatFallbackMessage(until time.Time) string {
	var sb strings.Builder

	sb.WriteString("Realtime channel updates are unavailable.\n")
	sb.WriteString("The tracker is polling until the cooldown elapses.\n")
	sb.WriteString(fmt.Sprintf("Realtime retry at: %s", until.Format(time.RFC3339)))

	return sb.String()
}
