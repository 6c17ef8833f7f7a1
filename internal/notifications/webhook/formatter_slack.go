package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"escalarm/internal/types"
)

// Slack renders blocks inside a single attachment so the message carries the
// level colour as a side bar.
type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string       `json:"type"`
	Text     *slackText   `json:"text,omitempty"`
	Fields   []*slackText `json:"fields,omitempty"`
	Elements []*slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(format string, args ...any) *slackText {
	return &slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

// SlackFormatter formats notifications as Slack Block Kit JSON.
type SlackFormatter struct{}

func (f *SlackFormatter) Platform() Platform { return PlatformSlack }

// Format renders msg as Block Kit. The top-level text is what Slack shows in
// push notifications, so it leads with the level.
func (f *SlackFormatter) Format(_ context.Context, msg *types.DeliveryMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("slack formatter: message is nil")
	}

	title := formatTitle(msg)
	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
	}
	if msg.Body != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: mrkdwn("%s", msg.Body)})
	}
	blocks = append(blocks,
		slackBlock{
			Type: "section",
			Fields: []*slackText{
				mrkdwn("*Level*\n%s", levelBadge(msg)),
				mrkdwn("*Intensity*\n%s", msg.Intensity),
				mrkdwn("*Task*\n%s", msg.TaskID),
			},
		},
		slackBlock{
			Type:     "context",
			Elements: []*slackText{mrkdwn("Alarm `%s` | %s", msg.AlarmID, firedAt(msg))},
		},
	)

	return json.Marshal(slackPayload{
		Text:        fmt.Sprintf("[%s] %s", strings.ToUpper(levelName(msg)), title),
		Attachments: []slackAttachment{{Color: levelHex(msg.Level), Blocks: blocks}},
	})
}

// ValidateResponse checks for Slack's soft failures: HTTP 200 with either a
// JSON error or a bare error code as the body.
func (f *SlackFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("slack: unexpected status %d", statusCode)
	}

	text := strings.TrimSpace(string(body))
	if text == "" || text == "ok" {
		return nil
	}

	var resp struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.OK != nil {
		if *resp.OK {
			return nil
		}
		if resp.Error == "" {
			resp.Error = "unknown error"
		}
		return fmt.Errorf("slack: API error: %s", resp.Error)
	}

	switch text {
	case "no_text", "invalid_payload", "invalid_blocks", "channel_not_found",
		"channel_is_archived", "too_many_attachments", "no_service":
		return fmt.Errorf("slack: API error: %s", text)
	}
	return nil
}
