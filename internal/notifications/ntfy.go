package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "tafkit/0.1.0"

// Ntfy publishes one-shot notifications to an ntfy topic URL. Progress
// updates are not forwarded.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy targets the topic URL with the given request timeout.
func NewNtfy(topic string, timeout time.Duration) *Ntfy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ntfy{endpoint: strings.TrimSpace(topic), client: &http.Client{Timeout: timeout}}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

func (n *Ntfy) Notify(ctx context.Context, note Notification) error {
	data := payload{
		title:   "tafkit - " + strings.TrimSpace(note.Title),
		message: strings.TrimSpace(note.Message),
		tags:    []string{"tafkit", string(note.Level)},
	}
	if data.message == "" {
		data.message = strings.TrimSpace(note.Title)
	}
	switch note.Level {
	case LevelError:
		data.priority = "high"
	case LevelInfo:
		data.priority = "low"
	}
	return n.send(ctx, data)
}

func (n *Ntfy) Progress(context.Context, string, string, string) error { return nil }

func (n *Ntfy) Done(context.Context, string) error { return nil }

func (n *Ntfy) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil || n.endpoint == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
