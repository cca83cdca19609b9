package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog/log"

	"github.com/wootrico/wabridge/internal/chatwoot"
	"github.com/wootrico/wabridge/internal/integration"
	"github.com/wootrico/wabridge/internal/mapping"
	"github.com/wootrico/wabridge/internal/payload"
	"github.com/wootrico/wabridge/internal/provider"
)

// HandleProviderEvent consumes one raw body from the principal subject:
// a message, edit, deletion or status notice sent by any of the three
// provider dialects. Unprocessable events are dropped with a reason;
// only remote failures that merit operator attention return an error.
func (p *Processor) HandleProviderEvent(ctx context.Context, body []byte) error {
	if id, ok := uazapiDeleteEvent(body); ok {
		return p.deleteFromProvider(ctx, id)
	}
	if t, _ := jsonparser.GetString(body, "type"); t == "messages_update" {
		log.Info().Str("reason", ReasonMessagesUpdateIgnored).Msg("provider event dropped")
		return nil
	}
	if n, _ := jsonparser.GetString(body, "notification"); n != "" {
		if strings.EqualFold(n, "REVOKE") {
			return p.deleteFromProvider(ctx, zapiRevokeTarget(body))
		}
		log.Info().
			Str("reason", ReasonNotificationIgnored).
			Str("notification", n).
			Msg("provider event dropped")
		return nil
	}

	origin := payload.DetectOrigin(body)
	if origin == payload.OriginUnknown {
		log.Warn().Str("reason", ReasonUnknownOrigin).Msg("provider event dropped")
		return nil
	}

	itg := p.routeProviderEvent(origin, body)
	if itg == nil {
		log.Warn().
			Str("reason", ReasonIntegrationNotFound).
			Str("origin", string(origin)).
			Msg("provider event dropped")
		return nil
	}

	ev, err := payload.Normalize(body, payload.Options{
		IgnoreGroups:   itg.IgnoreGroups,
		DefaultCountry: itg.DefaultCountry,
	})
	if err != nil {
		return fmt.Errorf("normalize %s event: %w", origin, err)
	}
	if ev.Ignored {
		log.Info().
			Str("reason", ev.IgnoreReason).
			Str("integration", itg.ID).
			Msg("provider event dropped")
		return nil
	}
	if ev.Text == "" && ev.Media == "" && ev.MediaKind == "" {
		log.Info().
			Str("reason", ReasonEmptyMessage).
			Str("integration", itg.ID).
			Str("messageId", ev.MessageID).
			Msg("provider event dropped")
		return nil
	}

	if ev.FromMe {
		return p.deliverAgentMessage(ctx, itg, ev)
	}
	return p.deliverClientMessage(ctx, itg, ev)
}

// uazapiDeleteEvent reports whether the body is a UAZAPI deletion
// notice and extracts the target provider message id.
func uazapiDeleteEvent(body []byte) (string, bool) {
	t, _ := jsonparser.GetString(body, "type")
	evType, _ := jsonparser.GetString(body, "event", "Type")
	state, _ := jsonparser.GetString(body, "state")
	if state == "" {
		state, _ = jsonparser.GetString(body, "event", "state")
	}
	if t != "DeletedMessage" && evType != "Deleted" && state != "Deleted" {
		return "", false
	}
	for _, path := range [][]string{
		{"event", "id"},
		{"event", "messageid"},
		{"id"},
		{"messageid"},
	} {
		if v, err := jsonparser.GetString(body, path...); err == nil && v != "" {
			return v, true
		}
	}
	return "", true
}

// zapiRevokeTarget extracts the deleted message id from a Z-API REVOKE
// notification. The reference id points at the revoked message; the
// notification's own id is the fallback.
func zapiRevokeTarget(body []byte) string {
	for _, path := range [][]string{{"referenceMessageId"}, {"messageId"}} {
		if v, err := jsonparser.GetString(body, path...); err == nil && v != "" {
			return v
		}
	}
	return ""
}

// routeProviderEvent picks the owning integration. A single-tenant
// setup takes everything; otherwise UAZAPI events route by connected
// number and the other dialects require an unambiguous tenant.
func (p *Processor) routeProviderEvent(origin payload.Origin, body []byte) *integration.Integration {
	if itg, ok := p.registry.Single(); ok {
		return itg
	}

	switch origin {
	case payload.OriginUazapi:
		for _, path := range [][]string{{"owner"}, {"message", "chatid"}} {
			v, err := jsonparser.GetString(body, path...)
			if err != nil || v == "" {
				continue
			}
			if itg := p.registry.ByProviderKey(provider.DialectUazapi, v); itg != nil {
				return itg
			}
		}
		return nil
	default:
		return p.singleOfDialect(dialectOf(origin))
	}
}

// singleOfDialect resolves dialects whose payloads carry no account
// identity: routing is only safe when exactly one tenant speaks it.
func (p *Processor) singleOfDialect(d provider.Dialect) *integration.Integration {
	matches := p.registry.ByDialect(d)
	if len(matches) == 1 {
		return matches[0]
	}
	return nil
}

// deliverClientMessage posts a client message as incoming. No credits
// move: client messages are never echoes.
func (p *Processor) deliverClientMessage(ctx context.Context, itg *integration.Integration, ev *payload.Event) error {
	msgID, convID, err := p.postToChatwoot(ctx, itg, ev, chatwoot.MessageIncoming)
	if err != nil {
		return err
	}
	p.storeMapping(msgID, convID, itg, ev)
	return nil
}

// deliverAgentMessage handles fromMe events. A chatwoot-side credit
// means this event is the echo of a message the bridge itself pushed to
// the provider, so it is dropped. Anything else came from the agent's
// phone or a foreign API client: it goes to the helpdesk as outgoing,
// pre-crediting the callback that posting will trigger.
func (p *Processor) deliverAgentMessage(ctx context.Context, itg *integration.Integration, ev *payload.Event) error {
	recipient := creditKey(ev)
	kind := kindOf(ev)

	if recipient != "" && p.ledger.ConsumeChatwoot(recipient, kind) {
		log.Info().
			Str("reason", ReasonChatwootTicketConsumed).
			Str("integration", itg.ID).
			Str("recipient", recipient).
			Str("kind", kind).
			Bool("fromApi", ev.FromAPI).
			Msg("provider echo suppressed")
		return nil
	}

	if recipient != "" {
		p.ledger.AddProvider(recipient, kind)
	}
	msgID, convID, err := p.postToChatwoot(ctx, itg, ev, chatwoot.MessageOutgoing)
	if err != nil {
		if recipient != "" {
			p.ledger.ConsumeProvider(recipient, kind)
		}
		return err
	}
	p.storeMapping(msgID, convID, itg, ev)
	return nil
}

// postToChatwoot resolves contact and conversation, shapes the content
// (group sender prefix, reply threading, edit marker) and posts the
// message. It returns (0, 0, nil) when the event is dropped for a
// missing identity.
func (p *Processor) postToChatwoot(ctx context.Context, itg *integration.Integration, ev *payload.Event, messageType string) (int, int, error) {
	identifier := contactIdentifier(ev)
	if identifier == "" {
		log.Warn().
			Str("reason", ReasonRecipientNotFound).
			Str("integration", itg.ID).
			Str("messageId", ev.MessageID).
			Msg("provider event dropped")
		return 0, 0, nil
	}

	contact, err := itg.Chatwoot.FindOrCreateContact(ctx, chatwoot.ContactSeed{
		Name:       displayName(ev),
		Identifier: identifier,
		Phone:      ev.Phone,
		AvatarURL:  ev.SenderPhoto,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("contact %s: %w", identifier, err)
	}

	conv, err := itg.Chatwoot.FindOrCreateConversation(ctx, contact.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("conversation for contact %d: %w", contact.ID, err)
	}

	content := ev.Text
	if ev.IsGroup && messageType == chatwoot.MessageIncoming && ev.SenderName != "" {
		content = "**" + ev.SenderName + ":**\n" + content
	}

	replyTo := 0
	if ev.ReplyID != "" {
		if id, _, ok := p.cache.ByProviderMsgID(ev.ReplyID); ok {
			replyTo = id
		}
	}
	if ev.EditedMessageID != "" {
		if id, _, ok := p.cache.ByProviderMsgID(ev.EditedMessageID); ok {
			replyTo = id
			if content == "" {
				content = EditMarker
			} else {
				content += "\n" + EditMarker
			}
		}
	}

	var msgID int
	if ev.MediaKind == "" {
		msgID, err = itg.Chatwoot.SendText(ctx, conv.ID, content, chatwoot.TextOptions{
			MessageType: messageType,
			ReplyToID:   replyTo,
		})
	} else {
		media := chatwoot.MediaMessage{
			Content:       content,
			MessageType:   messageType,
			ReplyToID:     replyTo,
			Kind:          ev.MediaKind,
			FileName:      ev.FileName,
			Origin:        ev.Origin,
			ProviderMsgID: ev.MessageID,
		}
		if strings.HasPrefix(ev.Media, "http://") || strings.HasPrefix(ev.Media, "https://") {
			media.URL = ev.Media
		} else {
			media.Base64 = ev.Media
		}
		msgID, err = itg.Chatwoot.SendMedia(ctx, conv.ID, media)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("post %s message: %w", messageType, err)
	}

	log.Info().
		Int("chatwootMessageId", msgID).
		Int("conversationId", conv.ID).
		Str("integration", itg.ID).
		Str("type", messageType).
		Str("providerMessageId", ev.MessageID).
		Msg("message delivered to chatwoot")
	return msgID, conv.ID, nil
}

func (p *Processor) storeMapping(msgID, convID int, itg *integration.Integration, ev *payload.Event) {
	if msgID == 0 {
		return
	}
	p.cache.Store(msgID, mapping.Entry{
		ProviderMsgID:  ev.MessageID,
		ConversationID: convID,
		InboxID:        itg.Chatwoot.InboxID(),
		Origin:         string(ev.Origin),
		IntegrationID:  itg.ID,
	})
}

// deleteFromProvider mirrors a provider-side deletion by removing the
// mapped helpdesk message.
func (p *Processor) deleteFromProvider(ctx context.Context, providerMsgID string) error {
	if providerMsgID == "" {
		log.Warn().
			Str("reason", ReasonDeletedWithoutMapping).
			Msg("deletion event carried no message id")
		return nil
	}

	chatwootID, entry, ok := p.cache.ByProviderMsgID(providerMsgID)
	if !ok {
		log.Warn().
			Str("reason", ReasonDeletedWithoutMapping).
			Str("providerMessageId", providerMsgID).
			Msg("provider deletion dropped")
		return nil
	}

	itg := p.registry.ByID(entry.IntegrationID)
	if itg == nil {
		itg = p.registry.First()
	}
	if itg == nil {
		log.Warn().
			Str("reason", ReasonIntegrationNotFound).
			Str("providerMessageId", providerMsgID).
			Msg("provider deletion dropped")
		return nil
	}

	if err := itg.Chatwoot.DeleteMessage(ctx, entry.ConversationID, chatwootID); err != nil {
		return fmt.Errorf("delete chatwoot message %d: %w", chatwootID, err)
	}
	p.cache.Remove(chatwootID)
	log.Info().
		Int("chatwootMessageId", chatwootID).
		Str("providerMessageId", providerMsgID).
		Str("integration", itg.ID).
		Msg("deletion mirrored to chatwoot")
	return nil
}
