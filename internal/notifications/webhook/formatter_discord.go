package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"escalarm/internal/types"
)

type discordPayload struct {
	Username        string                 `json:"username"`
	Content         string                 `json:"content"`
	Embeds          []discordEmbed         `json:"embeds"`
	AllowedMentions discordAllowedMentions `json:"allowed_mentions"`
}

// discordAllowedMentions stops task titles from pinging users or roles. Only
// emergency alarms opt in to @here.
type discordAllowedMentions struct {
	Parse []string `json:"parse"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Fields      []discordField `json:"fields"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

// DiscordFormatter formats notifications as a Discord embed.
type DiscordFormatter struct{}

func (f *DiscordFormatter) Platform() Platform { return PlatformDiscord }

func (f *DiscordFormatter) Format(_ context.Context, msg *types.DeliveryMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("discord formatter: message is nil")
	}

	title := formatTitle(msg)
	payload := discordPayload{
		Username: "Escalarm",
		Content:  title,
		Embeds: []discordEmbed{{
			Title:       title,
			Description: msg.Body,
			Color:       levelColor(msg.Level),
			Timestamp:   firedAt(msg),
			Fields: []discordField{
				{Name: "Level", Value: levelBadge(msg), Inline: true},
				{Name: "Intensity", Value: msg.Intensity, Inline: true},
				{Name: "Task", Value: msg.TaskID, Inline: true},
			},
			Footer: &discordFooter{Text: "Escalarm | " + msg.AlarmID},
		}},
		AllowedMentions: discordAllowedMentions{Parse: []string{}},
	}

	if msg.Level >= 5 {
		payload.Content = "@here " + strings.ToUpper(title)
		payload.AllowedMentions.Parse = []string{"everyone"}
	}
	return json.Marshal(payload)
}

// ValidateResponse accepts any 2xx; webhook posts answer 204 No Content.
func (f *DiscordFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var resp struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Message != "" {
		return fmt.Errorf("discord: API error: %s", resp.Message)
	}
	return fmt.Errorf("discord: unexpected status %d: %s", statusCode, truncateBody(body))
}
