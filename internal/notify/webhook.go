package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fentz26/recontrole/internal/models"
)

// Webhook payload formats.
const (
	FormatJSON    = "json"
	FormatDiscord = "discord"
	FormatSlack   = "slack"
)

const (
	colorRed    = 16711680 // #FF0000 - pending
	colorOrange = 16753920 // #FFA500 - in progress
	colorGreen  = 65280    // #00FF00 - finished

	webhookUsername = "Recontrole"
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
}

type discordRequest struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color     string       `json:"color"`
	Title     string       `json:"title"`
	Text      string       `json:"text"`
	Fields    []slackField `json:"fields"`
	Timestamp int64        `json:"ts"`
}

type slackRequest struct {
	Username    string            `json:"username"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type jsonRequest struct {
	IncidentID string `json:"incident_id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Category   string `json:"category"`
	Location   string `json:"location"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	NotifiedAt string `json:"notified_at"`
}

// WebhookSink posts notifications to an HTTP endpoint.
type WebhookSink struct {
	url    string
	format string
	client *http.Client
}

// NewWebhook returns a webhook sink posting in the given format.
func NewWebhook(url, format string) *WebhookSink {
	if format == "" {
		format = FormatJSON
	}
	return &WebhookSink{
		url:    url,
		format: format,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the sink identifier.
func (w *WebhookSink) Name() string { return "webhook:" + w.format }

// Validate ensures the sink is usable.
func (w *WebhookSink) Validate() error {
	if w.url == "" {
		return errors.New("webhook url is required")
	}
	switch w.format {
	case FormatJSON, FormatDiscord, FormatSlack:
		return nil
	default:
		return fmt.Errorf("unknown webhook format %q", w.format)
	}
}

// Send posts the notification.
func (w *WebhookSink) Send(ctx context.Context, n Notification) error {
	if err := w.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(w.payload(n))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func (w *WebhookSink) payload(n Notification) interface{} {
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}

	switch w.format {
	case FormatDiscord:
		return discordRequest{
			Username: webhookUsername,
			Embeds: []discordEmbed{{
				Title:       n.Title(),
				Description: n.Body(),
				Color:       statusColor(n.New),
				Fields: []discordField{
					{Name: "Location", Value: n.Location, Inline: true},
					{Name: "Previous status", Value: n.Old.Label(), Inline: true},
					{Name: "Status", Value: "**" + n.New.Label() + "**", Inline: true},
				},
				Timestamp: at.Format(time.RFC3339),
			}},
		}
	case FormatSlack:
		return slackRequest{
			Username: webhookUsername,
			Text:     n.Title(),
			Attachments: []slackAttachment{{
				Color: fmt.Sprintf("#%06X", statusColor(n.New)),
				Title: n.Title(),
				Text:  n.Body(),
				Fields: []slackField{
					{Title: "Location", Value: n.Location, Short: true},
					{Title: "Status", Value: n.New.Label(), Short: true},
				},
				Timestamp: at.Unix(),
			}},
		}
	default:
		return jsonRequest{
			IncidentID: n.IncidentID,
			Title:      n.Title(),
			Message:    n.Body(),
			Category:   n.Category,
			Location:   n.Location,
			OldStatus:  n.Old.String(),
			NewStatus:  n.New.String(),
			NotifiedAt: at.UTC().Format(time.RFC3339),
		}
	}
}

func statusColor(s models.Status) int {
	switch s {
	case models.StatusInProgress:
		return colorOrange
	case models.StatusFinished:
		return colorGreen
	default:
		return colorRed
	}
}
