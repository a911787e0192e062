package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ChatSender posts a message to the shared chat channel.
type ChatSender interface {
	SendChat(ctx context.Context, text string) error
}

// DiscordWebhook posts to a Discord channel webhook, one request per chunk.
type DiscordWebhook struct {
	url        string
	httpClient *http.Client
}

func NewDiscordWebhook(url string) *DiscordWebhook {
	return &DiscordWebhook{url: url, httpClient: &http.Client{Timeout: 20 * time.Second}}
}

func (d *DiscordWebhook) SendChat(ctx context.Context, text string) error {
	if d.url == "" {
		return fmt.Errorf("discord webhook not configured")
	}
	chunks := Chunk(text, DiscordMessageLimit)
	for i, chunk := range chunks {
		if err := d.post(ctx, chunk); err != nil {
			return fmt.Errorf("discord chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return nil
}

func (d *DiscordWebhook) post(ctx context.Context, content string) error {
	b, err := json.Marshal(map[string]any{
		"content": content,
		// Only user mentions may ping; @everyone in a finding stays inert.
		"allowed_mentions": map[string]any{"parse": []string{"users"}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bb, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(bb)))
	}
	return nil
}
