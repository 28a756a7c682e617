package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"gather/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// Webhook POSTs every matching notification as JSON to a configured URL.
type Webhook struct {
	Hook   config.WebhookConfig
	Client *http.Client
	Now    func() time.Time
}

// NewWebhooks builds one Webhook per enabled hook.
func NewWebhooks(hooks []config.WebhookConfig) []Notifier {
	var out []Notifier
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		out = append(out, Webhook{Hook: hook, Client: &http.Client{Timeout: timeout}})
	}
	return out
}

type webhookBody struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	PersonID string         `json:"person_id"`
	TS       string         `json:"ts"`
	Metadata map[string]any `json:"metadata"`
}

func (w Webhook) Notify(ctx context.Context, personID, eventType string, metadata map[string]any) error {
	if !newEventFilter(w.Hook.Events).match(eventType) {
		return nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	body := webhookBody{
		ID:       uuid.New().String(),
		Type:     eventType,
		PersonID: personID,
		TS:       now().UTC().Format(time.RFC3339),
		Metadata: metadata,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Gather-Event", eventType)
	req.Header.Set("X-Gather-Delivery", body.ID)
	if strings.TrimSpace(w.Hook.Secret) != "" {
		req.Header.Set("X-Gather-Secret", w.Hook.Secret)
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.Hook.URL, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", w.Hook.URL, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
