package alert

import (
	"encoding/json"
	"fmt"
)

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, event Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(event)
	case "pagerduty":
		return formatPagerDuty(event)
	default:
		return formatGeneric(event)
	}
}

func formatGeneric(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func formatSlack(event Event) ([]byte, error) {
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("mailwarden: %s", event.Verdict),
				},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Thread:* %s", event.ThreadID)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Check:* %s", event.Check)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Score:* %d", event.Score)},
					map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", event.Reason)},
				},
			},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(event Event) ([]byte, error) {
	severity := "info"
	switch event.Severity {
	case "critical":
		severity = "critical"
	case "high":
		severity = "error"
	case "medium":
		severity = "warning"
	}

	payload := map[string]any{
		"event_action": "trigger",
		"payload": map[string]any{
			"summary":  fmt.Sprintf("mailwarden %s: %s", event.Verdict, event.Reason),
			"source":   event.ThreadID,
			"severity": severity,
			"custom_details": map[string]any{
				"check":       event.Check,
				"sender":      event.Sender,
				"score":       event.Score,
				"policy_hash": event.PolicyHash,
			},
		},
	}
	return json.Marshal(payload)
}
