package webhook

import (
	"net/url"
	"strings"
)

// detectRule matches a webhook URL by host suffix and, optionally, path
// prefix. Matching on the parsed host keeps a platform name in a query
// string or path of some other service from being misdetected.
type detectRule struct {
	hostSuffix string
	pathPrefix string
	platform   Platform
}

var detectRules = []detectRule{
	{hostSuffix: "hooks.slack.com", platform: PlatformSlack},
	{hostSuffix: "discord.com", pathPrefix: "/api/webhooks/", platform: PlatformDiscord},
	{hostSuffix: "discordapp.com", pathPrefix: "/api/webhooks/", platform: PlatformDiscord},
	{hostSuffix: ".logic.azure.com", platform: PlatformTeams},
	{hostSuffix: ".webhook.office.com", platform: PlatformTeams},
	{hostSuffix: "chat.googleapis.com", pathPrefix: "/v1/spaces/", platform: PlatformGoogleChat},
}

// PlatformRegistry picks the formatter for a webhook destination.
type PlatformRegistry struct {
	formatters map[Platform]PlatformFormatter
}

func NewPlatformRegistry() *PlatformRegistry {
	r := &PlatformRegistry{formatters: make(map[Platform]PlatformFormatter)}
	for _, f := range []PlatformFormatter{
		&SlackFormatter{},
		&TeamsFormatter{},
		&DiscordFormatter{},
		&GoogleChatFormatter{},
		&GenericFormatter{},
	} {
		r.formatters[f.Platform()] = f
	}
	return r
}

// Detect returns override when it names a known platform, otherwise the
// platform implied by rawURL, falling back to generic.
func (r *PlatformRegistry) Detect(rawURL, override string) Platform {
	if _, ok := r.formatters[Platform(override)]; ok {
		return Platform(override)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return PlatformGeneric
	}
	host := strings.ToLower(u.Hostname())
	for _, rule := range detectRules {
		if !strings.HasSuffix(host, rule.hostSuffix) {
			continue
		}
		if rule.pathPrefix == "" || strings.HasPrefix(u.Path, rule.pathPrefix) {
			return rule.platform
		}
	}
	return PlatformGeneric
}

// Get returns the formatter for p, or the generic one.
func (r *PlatformRegistry) Get(p Platform) PlatformFormatter {
	if f, ok := r.formatters[p]; ok {
		return f
	}
	return r.formatters[PlatformGeneric]
}

// CheckDeprecation flags destinations the platform has announced it will
// retire. alarmd logs the warning at startup.
func (r *PlatformRegistry) CheckDeprecation(rawURL string) (warning string, deprecated bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, ".webhook.office.com"):
		return "Teams Office 365 connectors are being retired; move the alarm channel to a Power Automate workflow", true
	case strings.HasSuffix(host, "discordapp.com"):
		return "discordapp.com webhook URLs are legacy; use discord.com", true
	}
	return "", false
}
