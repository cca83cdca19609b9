package chatwoot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

// maxConversationPages bounds the paginated scans so a pathological
// account cannot stall the pipeline.
const maxConversationPages = 50

// Conversation is the slice of the Chatwoot conversation resource the
// bridge uses.
type Conversation struct {
	ID      int              `json:"id"`
	InboxID int              `json:"inbox_id"`
	Status  string           `json:"status"`
	Meta    ConversationMeta `json:"meta"`
}

// ConversationMeta carries the contact the conversation belongs to.
type ConversationMeta struct {
	Sender struct {
		ID int `json:"id"`
	} `json:"sender"`
}

// conversationPage tolerates both the data-wrapped and the bare list
// shapes Chatwoot has returned across versions.
type conversationPage struct {
	Data struct {
		Payload []Conversation `json:"payload"`
	} `json:"data"`
	Payload []Conversation `json:"payload"`
}

func (p conversationPage) conversations() []Conversation {
	if len(p.Data.Payload) > 0 {
		return p.Data.Payload
	}
	return p.Payload
}

// FindOrCreateConversation returns the conversation owned by contactID
// in the bridge inbox. When the reopen policy is on, resolved
// conversations are scanned first and a hit is toggled back to open so
// history stays in one thread. Otherwise an open conversation is reused
// or a fresh one is created with the configured initial status.
func (c *Client) FindOrCreateConversation(ctx context.Context, contactID int) (*Conversation, error) {
	inboxID, err := c.EnsureInbox(ctx)
	if err != nil {
		return nil, err
	}

	if c.cfg.ReopenResolved {
		conv, err := c.scanConversations(ctx, inboxID, StatusResolved, contactID)
		if err != nil {
			return nil, err
		}
		if conv != nil {
			if err := c.toggleStatus(ctx, conv.ID, StatusOpen); err != nil {
				return nil, fmt.Errorf("reopen conversation %d: %w", conv.ID, err)
			}
			conv.Status = StatusOpen
			log.Info().Int("conversationId", conv.ID).Int("contactId", contactID).Msg("resolved conversation reopened")
			return conv, nil
		}
	}

	conv, err := c.scanConversations(ctx, inboxID, StatusOpen, contactID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	return c.createConversation(ctx, inboxID, contactID)
}

// scanConversations pages through the inbox conversations of one status
// looking for the contact. An empty page ends the scan.
func (c *Client) scanConversations(ctx context.Context, inboxID int, status string, contactID int) (*Conversation, error) {
	for page := 1; page <= maxConversationPages; page++ {
		q := url.Values{}
		q.Set("status", status)
		q.Set("inbox_id", strconv.Itoa(inboxID))
		q.Set("page", strconv.Itoa(page))
		q.Set("sort_order", "latest_first")

		var resp conversationPage
		u := c.accountURL("/conversations") + "?" + q.Encode()
		if err := c.doJSON(ctx, c.http, http.MethodGet, u, nil, &resp); err != nil {
			return nil, fmt.Errorf("list %s conversations page %d: %w", status, page, err)
		}

		batch := resp.conversations()
		if len(batch) == 0 {
			return nil, nil
		}
		for i := range batch {
			if batch[i].Meta.Sender.ID == contactID {
				return &batch[i], nil
			}
		}
	}
	return nil, nil
}

func (c *Client) toggleStatus(ctx context.Context, conversationID int, status string) error {
	u := c.accountURL(fmt.Sprintf("/conversations/%d/toggle_status", conversationID))
	return c.doJSON(ctx, c.http, http.MethodPost, u, map[string]string{"status": status}, nil)
}

func (c *Client) createConversation(ctx context.Context, inboxID, contactID int) (*Conversation, error) {
	body := map[string]any{
		"inbox_id":   inboxID,
		"contact_id": contactID,
		"status":     c.cfg.InitialStatus,
	}

	var conv Conversation
	if err := c.doJSON(ctx, c.http, http.MethodPost, c.accountURL("/conversations"), body, &conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if conv.ID == 0 {
		return nil, ErrNoConversationID
	}
	if conv.InboxID == 0 {
		conv.InboxID = inboxID
	}
	if conv.Status == "" {
		conv.Status = c.cfg.InitialStatus
	}
	conv.Meta.Sender.ID = contactID
	log.Info().Int("conversationId", conv.ID).Int("contactId", contactID).Str("status", conv.Status).Msg("conversation created")
	return &conv, nil
}
