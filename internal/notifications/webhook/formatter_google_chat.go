package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"escalarm/internal/types"
)

// Google Chat cards v2.
type chatPayload struct {
	Text    string       `json:"text,omitempty"`
	CardsV2 []chatCardV2 `json:"cardsV2"`
}

type chatCardV2 struct {
	CardID string   `json:"cardId"`
	Card   chatCard `json:"card"`
}

type chatCard struct {
	Header   chatHeader    `json:"header"`
	Sections []chatSection `json:"sections"`
}

type chatHeader struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
}

type chatSection struct {
	Widgets []chatWidget `json:"widgets"`
}

type chatWidget struct {
	DecoratedText *chatDecoratedText `json:"decoratedText,omitempty"`
	TextParagraph *chatParagraph     `json:"textParagraph,omitempty"`
}

type chatDecoratedText struct {
	TopLabel string `json:"topLabel"`
	Text     string `json:"text"`
}

type chatParagraph struct {
	Text string `json:"text"`
}

func labelled(label, text string) chatWidget {
	return chatWidget{DecoratedText: &chatDecoratedText{TopLabel: label, Text: text}}
}

// GoogleChatFormatter formats notifications as a Google Chat card.
type GoogleChatFormatter struct{}

func (f *GoogleChatFormatter) Platform() Platform { return PlatformGoogleChat }

// Format renders msg as one card. Chat colours only the text of a widget, so
// the level badge is wrapped in a font tag.
func (f *GoogleChatFormatter) Format(_ context.Context, msg *types.DeliveryMessage) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("google chat formatter: message is nil")
	}

	var widgets []chatWidget
	if msg.Body != "" {
		widgets = append(widgets, chatWidget{TextParagraph: &chatParagraph{Text: msg.Body}})
	}
	widgets = append(widgets,
		labelled("Level", fmt.Sprintf(`<font color="%s">%s</font>`, levelHex(msg.Level), levelBadge(msg))),
		labelled("Intensity", msg.Intensity),
		labelled("Task", msg.TaskID),
	)

	return json.Marshal(chatPayload{
		CardsV2: []chatCardV2{{
			CardID: msg.NotificationID,
			Card: chatCard{
				Header:   chatHeader{Title: formatTitle(msg), Subtitle: "Alarm " + msg.AlarmID},
				Sections: []chatSection{{Widgets: widgets}},
			},
		}},
	})
}

func (f *GoogleChatFormatter) ValidateResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var resp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &resp) == nil && resp.Error.Message != "" {
		return fmt.Errorf("google chat: API error: %s", resp.Error.Message)
	}
	return fmt.Errorf("google chat: unexpected status %d: %s", statusCode, truncateBody(body))
}
