package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"escalarm/internal/types"
)

// Teams Workflows accept a message envelope around one Adaptive Card.
type teamsPayload struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	Content     adaptiveCard `json:"content"`
}

type adaptiveCard struct {
	Schema  string         `json:"$schema"`
	Type    string         `json:"type"`
	Version string         `json:"version"`
	Body    []adaptiveItem `json:"body"`
	MSTeams *teamsWidth    `json:"msteams,omitempty"`
}

type teamsWidth struct {
	Width string `json:"width"`
}

type adaptiveItem struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Size   string         `json:"size,omitempty"`
	Weight string         `json:"weight,omitempty"`
	Color  string         `json:"color,omitempty"`
	Style  string         `json:"style,omitempty"`
	Wrap   bool           `json:"wrap,omitempty"`
	Facts  []adaptiveFact `json:"facts,omitempty"`
	Items  []adaptiveItem `json:"items,omitempty"`
}

type adaptiveFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

// teamsColor maps a level onto the Adaptive Card colour palette.
func teamsColor(level int) string {
	switch {
	case level >= 4:
		return "Attention"
	case level == 3:
		return "Warning"
	case level == 2:
		return "Good"
	default:
		return "Accent"
	}
}

// TeamsFormatter formats notifications as Adaptive Cards for Power Automate
// Workflow webhooks.
type TeamsFormatter struct{}

func (f *TeamsFormatter) Platform() Platform { return PlatformTeams }

func (f *TeamsFormatter) Format(_ context.Context, msg *types.DeliveryMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("teams formatter: message is nil")
	}

	header := adaptiveItem{
		Type:  "Container",
		Style: "emphasis",
		Items: []adaptiveItem{{
			Type:   "TextBlock",
			Text:   formatTitle(msg),
			Size:   "Large",
			Weight: "Bolder",
			Color:  teamsColor(msg.Level),
			Wrap:   true,
		}},
	}
	body := []adaptiveItem{header}
	if msg.Body != "" {
		body = append(body, adaptiveItem{Type: "TextBlock", Text: msg.Body, Wrap: true})
	}
	body = append(body,
		adaptiveItem{
			Type: "FactSet",
			Facts: []adaptiveFact{
				{Title: "Level", Value: levelBadge(msg)},
				{Title: "Intensity", Value: msg.Intensity},
				{Title: "Task", Value: msg.TaskID},
				{Title: "Fired", Value: firedAt(msg)},
			},
		},
		adaptiveItem{Type: "TextBlock", Text: "Alarm " + msg.AlarmID, Size: "Small", Wrap: true},
	)

	return json.Marshal(teamsPayload{
		Type: "message",
		Attachments: []teamsAttachment{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: adaptiveCard{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
				MSTeams: &teamsWidth{Width: "Full"},
			},
		}},
	})
}

// ValidateResponse accepts any 2xx. Workflows answer 202 Accepted.
func (f *TeamsFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return fmt.Errorf("teams: unexpected status %d: %s", statusCode, truncateBody(body))
}
