package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"brassradar/models"
)

// Ntfy posts to a push topic.
type Ntfy struct {
	baseURL string
	topic   string
	client  *http.Client
}

func NewNtfy(baseURL, topic string, client *http.Client) *Ntfy {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Ntfy{baseURL: strings.TrimRight(baseURL, "/"), topic: topic, client: client}
}

func (n *Ntfy) Name() string { return "ntfy" }

func (n *Ntfy) Deliver(ctx context.Context, msg models.Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/"+n.topic, strings.NewReader(msg.Body()))
	if err != nil {
		return err
	}
	req.Header.Set("Title", msg.Title)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ntfy status %d: %s", resp.StatusCode, body)
	}
	return nil
}
