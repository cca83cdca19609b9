package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/integration"
	"github.com/wootrico/wabridge/internal/mapping"
	"github.com/wootrico/wabridge/internal/payload"
	"github.com/wootrico/wabridge/internal/provider"
)

// callbackEvent is the slice of a Chatwoot webhook the bridge reads.
// message_type arrives as a string in webhooks but as a number from the
// REST API, so it is decoded lazily.
type callbackEvent struct {
	Event             string          `json:"event"`
	ID                int             `json:"id"`
	Content           string          `json:"content"`
	MessageType       json.RawMessage `json:"message_type"`
	Private           bool            `json:"private"`
	ContentAttributes struct {
		InReplyTo int  `json:"in_reply_to"`
		Deleted   bool `json:"deleted"`
	} `json:"content_attributes"`
	Attachments  []callbackAttachment `json:"attachments"`
	Sender       callbackAgent        `json:"sender"`
	Conversation struct {
		ID        int `json:"id"`
		DisplayID int `json:"display_id"`
		InboxID   int `json:"inbox_id"`
		Meta      struct {
			Sender   callbackContact `json:"sender"`
			Assignee callbackAgent   `json:"assignee"`
		} `json:"meta"`
	} `json:"conversation"`
}

type callbackAttachment struct {
	FileType string `json:"file_type"`
	DataURL  string `json:"data_url"`
}

type callbackAgent struct {
	Name          string `json:"name"`
	AvailableName string `json:"available_name"`
}

type callbackContact struct {
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	PhoneNumber string `json:"phone_number"`
}

func (cb *callbackEvent) outgoing() bool {
	raw := bytes.Trim(bytes.TrimSpace(cb.MessageType), `"`)
	return string(raw) == "outgoing" || string(raw) == "1"
}

func (cb *callbackEvent) conversationID() int {
	if cb.Conversation.DisplayID != 0 {
		return cb.Conversation.DisplayID
	}
	return cb.Conversation.ID
}

// HandleChatwootEvent consumes one raw body from the callback subject:
// the helpdesk's record of a created or updated message. Agent messages
// travel to the provider from here; everything else drops with a
// reason.
func (p *Processor) HandleChatwootEvent(ctx context.Context, body []byte) error {
	var cb callbackEvent
	if err := json.Unmarshal(body, &cb); err != nil {
		return fmt.Errorf("decode chatwoot callback: %w", err)
	}

	if cb.Event == "message_updated" && cb.ContentAttributes.Deleted {
		return p.deleteFromChatwoot(ctx, &cb)
	}
	if cb.Event != "message_created" {
		log.Info().
			Str("reason", ReasonEventNotMessageCreated).
			Str("event", cb.Event).
			Msg("chatwoot callback dropped")
		return nil
	}
	if !cb.outgoing() {
		log.Info().
			Str("reason", ReasonMessageNotOutgoing).
			Int("chatwootMessageId", cb.ID).
			Msg("chatwoot callback dropped")
		return nil
	}
	if cb.Private {
		log.Info().
			Str("reason", ReasonPrivateMessage).
			Int("chatwootMessageId", cb.ID).
			Msg("chatwoot callback dropped")
		return nil
	}

	itg := p.routeCallback(&cb)
	if itg == nil {
		log.Warn().
			Str("reason", ReasonIntegrationNotFound).
			Int("inboxId", cb.Conversation.InboxID).
			Int("chatwootMessageId", cb.ID).
			Msg("chatwoot callback dropped")
		return nil
	}

	recipient := callbackRecipient(&cb.Conversation.Meta.Sender)
	if recipient == "" {
		log.Warn().
			Str("reason", ReasonRecipientNotFound).
			Str("integration", itg.ID).
			Int("chatwootMessageId", cb.ID).
			Msg("chatwoot callback dropped")
		return nil
	}

	replyTo := ""
	if cb.ContentAttributes.InReplyTo != 0 {
		if entry, ok := p.cache.ByChatwootID(cb.ContentAttributes.InReplyTo); ok {
			replyTo = entry.ProviderMsgID
		}
	}

	content := cb.Content
	if itg.SignAgentMessages {
		content = signContent(content, agentName(&cb))
	}

	attachments := canonicalAttachments(cb.Attachments)
	kind := payload.KindText
	if len(attachments) > 0 {
		kind = attachments[0].Kind
	}

	// A provider-echo credit means the helpdesk is reporting a message
	// the bridge already delivered from the provider side; sending it
	// back would bounce forever.
	if p.ledger.ConsumeProvider(recipient, string(kind)) {
		log.Info().
			Str("reason", ReasonTicketConsumed).
			Str("integration", itg.ID).
			Str("recipient", recipient).
			Str("kind", string(kind)).
			Int("chatwootMessageId", cb.ID).
			Msg("chatwoot echo suppressed")
		return nil
	}

	credited := p.creditChatwootEchoes(recipient, attachments)

	providerMsgID, err := itg.Provider.SendMessage(ctx, provider.SendInput{
		Recipient:   recipient,
		Content:     content,
		Kind:        kind,
		Attachments: attachments,
		LID:         handleWithSuffix(cb.Conversation.Meta.Sender.Identifier, "@lid"),
		JID:         handleWithSuffix(cb.Conversation.Meta.Sender.Identifier, "@s.whatsapp.net"),
		ReplyTo:     replyTo,
	})
	if err != nil {
		p.rollbackChatwootEchoes(recipient, credited)
		return fmt.Errorf("send to %s via %s: %w", recipient, itg.Provider.Dialect(), err)
	}

	if cb.ID != 0 && providerMsgID != "" {
		p.cache.Store(cb.ID, mapping.Entry{
			ProviderMsgID:  providerMsgID,
			ConversationID: cb.conversationID(),
			InboxID:        cb.Conversation.InboxID,
			Origin:         string(itg.Provider.Dialect()),
			IntegrationID:  itg.ID,
		})
	}
	log.Info().
		Int("chatwootMessageId", cb.ID).
		Str("providerMessageId", providerMsgID).
		Str("integration", itg.ID).
		Str("recipient", recipient).
		Int("attachments", len(attachments)).
		Msg("message delivered to provider")
	return nil
}

// deleteFromChatwoot mirrors an agent-side deletion to the provider and
// drops the mapping so later lookups miss.
func (p *Processor) deleteFromChatwoot(ctx context.Context, cb *callbackEvent) error {
	entry, ok := p.cache.ByChatwootID(cb.ID)
	if !ok {
		log.Warn().
			Str("reason", ReasonMessageIDNotFound).
			Int("chatwootMessageId", cb.ID).
			Msg("chatwoot deletion dropped")
		return nil
	}

	itg := p.registry.ByID(entry.IntegrationID)
	if itg == nil {
		itg = p.registry.ByInboxID(cb.Conversation.InboxID)
	}
	if itg == nil {
		itg = p.registry.First()
	}
	if itg == nil {
		log.Warn().
			Str("reason", ReasonIntegrationNotFound).
			Int("chatwootMessageId", cb.ID).
			Msg("chatwoot deletion dropped")
		return nil
	}

	recipient := callbackRecipient(&cb.Conversation.Meta.Sender)
	if err := itg.Provider.DeleteMessage(ctx, entry.ProviderMsgID, recipient); err != nil {
		return fmt.Errorf("delete provider message %s: %w", entry.ProviderMsgID, err)
	}
	p.cache.Remove(cb.ID)
	log.Info().
		Int("chatwootMessageId", cb.ID).
		Str("providerMessageId", entry.ProviderMsgID).
		Str("integration", itg.ID).
		Msg("deletion mirrored to provider")
	return nil
}

// routeCallback picks the owning integration: the only one when a
// single tenant is loaded, otherwise the tenant bound to the inbox the
// callback fired from.
func (p *Processor) routeCallback(cb *callbackEvent) *integration.Integration {
	if itg, ok := p.registry.Single(); ok {
		return itg
	}
	return p.registry.ByInboxID(cb.Conversation.InboxID)
}

// callbackRecipient resolves the wire destination from the contact the
// conversation belongs to. Group identifiers pass verbatim; direct
// chats prefer the E.164 phone and degrade to the provider-native
// handle stored as the identifier.
func callbackRecipient(contact *callbackContact) string {
	if payload.IsGroupIdentifier(contact.Identifier) {
		return contact.Identifier
	}
	if contact.PhoneNumber != "" {
		return contact.PhoneNumber
	}
	if lid := handleWithSuffix(contact.Identifier, "@lid"); lid != "" {
		return lid
	}
	if jid := handleWithSuffix(contact.Identifier, "@s.whatsapp.net"); jid != "" {
		return jid
	}
	return contact.Identifier
}

func handleWithSuffix(identifier, suffix string) string {
	if strings.HasSuffix(identifier, suffix) {
		return identifier
	}
	return ""
}

// agentName picks the signature name: the assignee first, then the
// message sender, then the conversation's own contact as a last resort.
func agentName(cb *callbackEvent) string {
	for _, name := range []string{
		cb.Conversation.Meta.Assignee.AvailableName,
		cb.Conversation.Meta.Assignee.Name,
		cb.Sender.Name,
		cb.Sender.AvailableName,
		cb.Conversation.Meta.Sender.Name,
	} {
		if name != "" {
			return name
		}
	}
	return ""
}

// signContent prepends the agent signature. An empty body carries the
// bare signature so media-only sends still say who sent them.
func signContent(content, name string) string {
	if name == "" {
		return content
	}
	if content == "" {
		return "*" + name + ":*"
	}
	return "*" + name + ":*\n\n" + content
}

// canonicalAttachments maps Chatwoot attachment descriptors onto the
// provider send parts. Chatwoot spells documents "file"; anything it
// invents later is treated as a document too so the bytes still arrive.
func canonicalAttachments(atts []callbackAttachment) []provider.Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]provider.Attachment, 0, len(atts))
	for _, att := range atts {
		if att.DataURL == "" {
			continue
		}
		out = append(out, provider.Attachment{
			URL:      att.DataURL,
			Kind:     attachmentKind(att.FileType),
			FileName: fileNameFromURL(att.DataURL),
		})
	}
	return out
}

func attachmentKind(fileType string) payload.Kind {
	switch strings.ToLower(fileType) {
	case "image":
		return payload.KindImage
	case "audio":
		return payload.KindAudio
	case "video":
		return payload.KindVideo
	default:
		return payload.KindDocument
	}
}

func fileNameFromURL(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		raw = raw[i+1:]
	}
	if raw == "" || strings.IndexByte(raw, '.') < 0 {
		return ""
	}
	return raw
}

// creditChatwootEchoes pre-credits one API echo per outgoing part, so
// the provider webhooks this send triggers cancel out. The credited
// kinds come back for rollback on send failure.
func (p *Processor) creditChatwootEchoes(recipient string, attachments []provider.Attachment) []string {
	if len(attachments) == 0 {
		p.ledger.AddChatwoot(recipient, string(payload.KindText))
		return []string{string(payload.KindText)}
	}
	kinds := make([]string, 0, len(attachments))
	for _, att := range attachments {
		p.ledger.AddChatwoot(recipient, string(att.Kind))
		kinds = append(kinds, string(att.Kind))
	}
	return kinds
}

func (p *Processor) rollbackChatwootEchoes(recipient string, kinds []string) {
	for _, kind := range kinds {
		p.ledger.ConsumeChatwoot(recipient, kind)
	}
}
