package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/unishark/portalwatch/internal/watch"
)

// DiscordChannel posts payloads to per-tenant webhook URLs.
type DiscordChannel struct {
	client *http.Client
}

// NewDiscordChannel creates a webhook channel.
func NewDiscordChannel() *DiscordChannel {
	return &DiscordChannel{client: &http.Client{Timeout: 15 * time.Second}}
}

// Name implements watch.Channel.
func (c *DiscordChannel) Name() string { return "discord" }

type discordMessage struct {
	Content string `json:"content"`
}

// Deliver posts the payload text to the webhook at destination.
func (c *DiscordChannel) Deliver(ctx context.Context, destination string, payload watch.Payload) error {
	body, err := json.Marshal(discordMessage{Content: payload.Text})
	if err != nil {
		return fmt.Errorf("marshal discord message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}
	return nil
}
