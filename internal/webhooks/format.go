package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// signPayload creates an HMAC-SHA256 signature
func signPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// formatPayload formats the event payload according to webhook format
func formatPayload(webhook *Webhook, event *Event) (string, error) {
	var payload any
	switch webhook.Format {
	case FormatSlack:
		payload = formatSlack(event)
	case FormatDiscord:
		payload = formatDiscord(event)
	case FormatTelegram:
		payload = formatTelegram(webhook.ChatID, event)
	default:
		payload = formatJSON(event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// isChain reports whether the event text is a rendered chain, which is sent
// preformatted.
func isChain(event *Event) bool {
	return event.Type == EventChainUpdated || event.Type == EventChainOptimal
}

func formatJSON(event *Event) map[string]any {
	payload := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
		"timestamp":  event.Timestamp.Format(time.RFC3339),
		"text":       event.Text,
	}
	if len(event.Data) > 0 {
		payload["data"] = event.Data
	}
	return payload
}

// formatSlack formats for Slack incoming webhooks
func formatSlack(event *Event) map[string]any {
	var text, color string
	switch event.Type {
	case EventChainUpdated:
		text = fmt.Sprintf("```\n%s\n```", event.Text)
		color = "#36a64f"
	case EventChainOptimal:
		text = ":white_check_mark: The chain is now in an optimal state"
		color = "good"
	case EventSweepFailed:
		text = fmt.Sprintf(":x: Sweep failed: %s", event.Text)
		color = "danger"
	default:
		text = event.Text
		color = "warning"
	}

	return map[string]any{
		"attachments": []map[string]any{
			{
				"color":     color,
				"text":      text,
				"ts":        event.Timestamp.Unix(),
				"footer":    "chainwatch",
				"mrkdwn_in": []string{"text"},
			},
		},
	}
}

// formatDiscord formats for Discord webhooks
func formatDiscord(event *Event) map[string]any {
	var color int
	var title, description string

	switch event.Type {
	case EventChainUpdated:
		color = 0x0000FF // Blue
		title = "Chain updated"
		description = fmt.Sprintf("```\n%s\n```", event.Text)
	case EventChainOptimal:
		color = 0x00FF00 // Green
		title = "Chain optimal"
		description = "Every link in the best chain is valid."
	case EventSweepFailed:
		color = 0xFF0000 // Red
		title = "Sweep failed"
		description = event.Text
	default:
		color = 0xFFA500 // Orange
		title = "Announcement"
		description = event.Text
	}

	return map[string]any{
		"embeds": []map[string]any{
			{
				"title":       title,
				"description": description,
				"color":       color,
				"timestamp":   event.Timestamp.Format(time.RFC3339),
				"footer": map[string]any{
					"text": "chainwatch",
				},
			},
		},
	}
}

// formatTelegram builds a Bot API sendMessage request. Chains are sent in
// monospace without a notification.
func formatTelegram(chatID string, event *Event) map[string]any {
	text := event.Text
	silent := false
	switch event.Type {
	case EventChainUpdated:
		text = fmt.Sprintf("```\n%s```", event.Text)
		silent = true
	case EventChainOptimal:
		text = "The chain is now in an optimal state!"
		silent = true
	case EventSweepFailed:
		text = "Sweep failed: " + event.Text
	}

	return map[string]any{
		"chat_id":              chatID,
		"text":                 text,
		"parse_mode":           "Markdown",
		"disable_notification": silent,
	}
}
