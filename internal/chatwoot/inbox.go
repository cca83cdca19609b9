package chatwoot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Inbox is the slice of the Chatwoot inbox resource the bridge uses.
type Inbox struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// sidecarState persists the resolved inbox id across restarts so the
// bridge does not depend on the inbox listing being reachable at boot.
type sidecarState struct {
	InboxID   int    `json:"inboxId"`
	InboxName string `json:"inboxName"`
	SavedAt   string `json:"savedAt"`
}

func (c *Client) sidecarPath() string {
	name := fmt.Sprintf("app-data-%s-%s.json", c.cfg.AccountID, slug(c.cfg.InboxName))
	return filepath.Join(c.cfg.DataDir, name)
}

// EnsureInbox resolves the working inbox id: the sidecar file first,
// the account's inbox list by name second, creation last. The result is
// cached, so repeated calls are cheap and the method is safe to call
// lazily from the send path.
func (c *Client) EnsureInbox(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inboxID != 0 {
		return c.inboxID, nil
	}

	if id := c.storedInboxID(); id != 0 {
		var inbox Inbox
		err := c.doJSON(ctx, c.http, http.MethodGet, c.accountURL(fmt.Sprintf("/inboxes/%d", id)), nil, &inbox)
		if err == nil && inbox.ID != 0 && strings.EqualFold(inbox.Name, c.cfg.InboxName) {
			c.inboxID = inbox.ID
			log.Info().Int("inboxId", inbox.ID).Str("inbox", inbox.Name).Msg("inbox adopted from local state")
			return c.inboxID, nil
		}
		log.Warn().Err(err).Int("inboxId", id).Msg("stored inbox rejected, resolving by name")
	}

	var list struct {
		Payload []Inbox `json:"payload"`
	}
	if err := c.doJSON(ctx, c.http, http.MethodGet, c.accountURL("/inboxes"), nil, &list); err != nil {
		return 0, fmt.Errorf("list inboxes: %w", err)
	}
	for _, inbox := range list.Payload {
		if strings.EqualFold(inbox.Name, c.cfg.InboxName) {
			c.inboxID = inbox.ID
			c.persistInbox(inbox)
			log.Info().Int("inboxId", inbox.ID).Str("inbox", inbox.Name).Msg("inbox resolved by name")
			return c.inboxID, nil
		}
	}

	created, err := c.createInbox(ctx)
	if err != nil {
		return 0, err
	}
	c.inboxID = created.ID
	c.persistInbox(created)
	log.Info().Int("inboxId", created.ID).Str("inbox", created.Name).Msg("inbox created")
	return c.inboxID, nil
}

func (c *Client) createInbox(ctx context.Context) (Inbox, error) {
	webhookURL := strings.TrimRight(c.cfg.WebhookBaseURL, "/") + "/" + c.cfg.WebhookName + "/callback"
	body := map[string]any{
		"name": c.cfg.InboxName,
		"channel": map[string]any{
			"type":        "api",
			"webhook_url": webhookURL,
		},
		"allow_messages_after_resolved": c.cfg.ReopenResolved,
	}

	var inbox Inbox
	if err := c.doJSON(ctx, c.http, http.MethodPost, c.accountURL("/inboxes"), body, &inbox); err != nil {
		return Inbox{}, fmt.Errorf("create inbox: %w", err)
	}
	if inbox.ID == 0 {
		return Inbox{}, ErrNoInboxID
	}
	if inbox.Name == "" {
		inbox.Name = c.cfg.InboxName
	}
	return inbox, nil
}

func (c *Client) storedInboxID() int {
	data, err := os.ReadFile(c.sidecarPath())
	if err != nil {
		return 0
	}
	var st sidecarState
	if err := json.Unmarshal(data, &st); err != nil {
		return 0
	}
	return st.InboxID
}

// persistInbox writes the sidecar file. Failures are logged and
// swallowed: the sidecar is an optimization, not a source of truth.
func (c *Client) persistInbox(inbox Inbox) {
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", c.cfg.DataDir).Msg("could not create data dir")
		return
	}
	st := sidecarState{
		InboxID:   inbox.ID,
		InboxName: inbox.Name,
		SavedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := os.WriteFile(c.sidecarPath(), data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", c.sidecarPath()).Msg("could not persist inbox state")
	}
}

// slug lowercases s and folds every non-alphanumeric run into a single
// dash, making it safe for file names.
func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
