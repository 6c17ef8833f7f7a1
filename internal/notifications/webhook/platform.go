package webhook

import (
	"context"

	"escalarm/internal/types"
)

// Platform names a webhook destination family.
type Platform string

const (
	PlatformGeneric    Platform = "generic"
	PlatformSlack      Platform = "slack"
	PlatformDiscord    Platform = "discord"
	PlatformTeams      Platform = "teams"
	PlatformGoogleChat Platform = "google_chat"
)

// PlatformFormatter renders one fired alarm for a destination platform and
// reads back the platform's verdict on it.
type PlatformFormatter interface {
	Format(ctx context.Context, msg *types.DeliveryMessage) ([]byte, error)
	Platform() Platform

	// ValidateResponse catches failures reported with a 2xx status, such as
	// Slack answering 200 with {"ok": false}.
	ValidateResponse(statusCode int, body []byte) error
}
