package webhook

import (
	"fmt"
	"strings"
	"time"

	"escalarm/internal/types"
)

// Embed colors by escalation level (decimal RGB).
const (
	colorGentle     = 0x2196F3 // Blue
	colorPersistent = 0x4CAF50 // Green
	colorUrgent     = 0xFFC107 // Amber
	colorCritical   = 0xFF9800 // Orange
	colorEmergency  = 0xF44336 // Red
)

// formatTitle prefers the gateway-rendered title and falls back to the level.
func formatTitle(msg *types.DeliveryMessage) string {
	if msg.Title != "" {
		return msg.Title
	}
	return fmt.Sprintf("%s alarm", capitalizeFirst(levelName(msg)))
}

func levelName(msg *types.DeliveryMessage) string {
	if msg.LevelName != "" {
		return msg.LevelName
	}
	return fmt.Sprintf("level %d", msg.Level)
}

// levelBadge renders "URGENT (3/5)".
func levelBadge(msg *types.DeliveryMessage) string {
	return fmt.Sprintf("%s (%d/5)", strings.ToUpper(levelName(msg)), msg.Level)
}

func levelColor(level int) int {
	switch {
	case level <= 1:
		return colorGentle
	case level == 2:
		return colorPersistent
	case level == 3:
		return colorUrgent
	case level == 4:
		return colorCritical
	default:
		return colorEmergency
	}
}

// levelHex renders the level colour as "#RRGGBB".
func levelHex(level int) string {
	return fmt.Sprintf("#%06X", levelColor(level))
}

func firedAt(msg *types.DeliveryMessage) string {
	if msg.FiredAt.IsZero() {
		return ""
	}
	return msg.FiredAt.UTC().Format(time.RFC3339)
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncateBody returns a truncated version of the response body for error messages.
func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
